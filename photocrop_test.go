package photocrop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/photo-crop/internal/config"
	"github.com/menta2k/photo-crop/pkg/cropper"
	"github.com/menta2k/photo-crop/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Create a pattern with a bright subject in the center
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	return img
}

func writeTestPNG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	path := filepath.Join(dir, "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, createTestImage(width, height)); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return path
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestNew(t *testing.T) {
	pc := New()
	if pc == nil {
		t.Fatal("New() returned nil")
	}

	opts := pc.Options()
	if opts.Output.Format != types.JPEG {
		t.Errorf("Expected default format jpeg, got %s", opts.Output.Format)
	}
	if opts.Output.Quality != types.DefaultQuality {
		t.Errorf("Expected default quality %d, got %d", types.DefaultQuality, opts.Output.Quality)
	}
	if opts.Aspect.Fixed() {
		t.Errorf("Expected free-form aspect, got %s", opts.Aspect)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Crop.Aspect = "4:3"
	cfg.Output.Format = "png"

	pc, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if pc.Options().Aspect != types.Landscape {
		t.Errorf("Expected 4:3 aspect, got %s", pc.Options().Aspect)
	}

	cfg = config.Default()
	cfg.Output.Quality = 0
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("Expected error for invalid quality")
	}

	cfg = config.Default()
	cfg.Crop.FaceModel = filepath.Join(t.TempDir(), "facefinder")
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("Expected error for missing face model")
	}
}

func TestCropFile(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, 200, 100)

	cfg := config.Default()
	cfg.Output.Format = "png"
	pc, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	output := filepath.Join(dir, "out", "crop.png")
	res, err := pc.CropFile(context.Background(), input, output, nil)
	if err != nil {
		t.Fatalf("CropFile() failed: %v", err)
	}

	// default selection is 4/5 of the shorter side
	if res.Width != 80 || res.Height != 80 {
		t.Errorf("Expected 80x80 crop, got %dx%d", res.Width, res.Height)
	}
	if res.Destination != output {
		t.Errorf("Expected destination %s, got %s", output, res.Destination)
	}
	if w, h := decodeSize(t, output); w != 80 || h != 80 {
		t.Errorf("Expected 80x80 file, got %dx%d", w, h)
	}
}

func TestCropFileWithRect(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, 200, 100)
	pc := New()

	rect := image.Rect(20, 10, 170, 90)
	res, err := pc.CropFile(context.Background(), input, filepath.Join(dir, "rect.jpg"), &rect)
	if err != nil {
		t.Fatalf("CropFile() failed: %v", err)
	}
	if res.Region != rect {
		t.Errorf("Expected region %v, got %v", rect, res.Region)
	}
	if w, h := decodeSize(t, res.Destination); w != 150 || h != 80 {
		t.Errorf("Expected 150x80 file, got %dx%d", w, h)
	}

	outside := image.Rect(0, 0, 201, 100)
	_, err = pc.CropFile(context.Background(), input, filepath.Join(dir, "bad.jpg"), &outside)
	if !errors.Is(err, cropper.ErrGeometry) {
		t.Errorf("Expected geometry error, got %v", err)
	}
}

func TestCropFileSmart(t *testing.T) {
	dir := t.TempDir()
	input := writeTestPNG(t, dir, 200, 100)

	cfg := config.Default()
	cfg.Crop.Smart = true
	cfg.Crop.Aspect = "1:1"
	cfg.Output.Dir = filepath.Join(dir, "smart")
	pc, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	res, err := pc.CropFile(context.Background(), input, "", nil)
	if err != nil {
		t.Fatalf("CropFile() failed: %v", err)
	}
	expected := filepath.Join(dir, "smart", "photo_cropped.jpg")
	if res.Destination != expected {
		t.Errorf("Expected destination %s, got %s", expected, res.Destination)
	}
	if res.Width == 0 || res.Width != res.Height {
		t.Errorf("Expected a square crop, got %dx%d", res.Width, res.Height)
	}
}

func TestCropFileMissingInput(t *testing.T) {
	pc := New()
	_, err := pc.CropFile(context.Background(), filepath.Join(t.TempDir(), "nope.jpg"), "", nil)
	if !errors.Is(err, cropper.ErrInputUnreadable) {
		t.Errorf("Expected input unreadable error, got %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected version %s, got %s", Version, GetVersion())
	}
}
