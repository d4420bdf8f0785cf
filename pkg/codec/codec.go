// Package codec decodes source photos, optionally down-sampled, and encodes
// cropped results.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/sampling"
	"github.com/menta2k/photo-crop/pkg/types"
)

// Info describes an encoded image without decoding its pixels.
type Info struct {
	Format      string
	Width       int
	Height      int
	AspectRatio float64
}

// DecodeConfig reads the header of the image in rs and rewinds it.
func DecodeConfig(rs io.ReadSeeker) (Info, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Info{}, err
	}
	cfg, format, err := image.DecodeConfig(rs)
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Info{}, err
	}
	info := Info{Format: format, Width: cfg.Width, Height: cfg.Height}
	if cfg.Height > 0 {
		info.AspectRatio = float64(cfg.Width) / float64(cfg.Height)
	}
	return info, nil
}

// Decode fully decodes the image in rs. The decode is refused with
// decoder.ErrOutOfMemory when its pixel buffer would exceed budget. EXIF
// orientation is not applied.
func Decode(rs io.ReadSeeker, budget decoder.Budget) (image.Image, Info, error) {
	info, err := DecodeConfig(rs)
	if err != nil {
		return nil, Info{}, err
	}
	if err := budget.Check(info.Width, info.Height); err != nil {
		return nil, info, err
	}
	img, err := imaging.Decode(rs)
	if err == nil {
		return img, info, nil
	}
	if info.Format == "webp" {
		// x/image/webp rejects some extended files that libwebp accepts
		if _, serr := rs.Seek(0, io.SeekStart); serr == nil {
			if wimg, werr := webp.Decode(rs); werr == nil {
				return wimg, info, nil
			}
		}
	}
	return nil, info, fmt.Errorf("failed to decode image: %w", err)
}

// DecodeSampled decodes the image in rs and down-samples it by sampleSize.
// The full-resolution buffer is released before returning.
func DecodeSampled(rs io.ReadSeeker, sampleSize int, budget decoder.Budget) (image.Image, Info, error) {
	img, info, err := Decode(rs, budget)
	if err != nil {
		return nil, info, err
	}
	if sampleSize <= 1 {
		return img, info, nil
	}
	w, h := sampling.Scaled(info.Width, info.Height, sampleSize)
	return imaging.Resize(img, w, h, imaging.Box), info, nil
}

// Encode writes img to w in the format of spec.
func Encode(w io.Writer, img image.Image, spec types.OutputSpec) error {
	spec = spec.WithDefaults()
	switch spec.Format {
	case types.JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(spec.Quality))
	case types.PNG:
		return imaging.Encode(w, img, imaging.PNG)
	case types.WebP:
		return webp.Encode(w, img, &webp.Options{Lossless: spec.Lossless, Quality: float32(spec.Quality)})
	}
	return fmt.Errorf("unsupported output format: %s", spec.Format)
}

// EncodeBytes is Encode into a new buffer.
func EncodeBytes(img image.Image, spec types.OutputSpec) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, spec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsFormatSupported reports whether format is one of supported, ignoring case.
func IsFormatSupported(format string, supported []string) bool {
	for _, s := range supported {
		if strings.EqualFold(format, s) {
			return true
		}
	}
	return false
}

// ErrUnsupportedFormat is returned by CheckFormat.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// CheckFormat returns ErrUnsupportedFormat when format is not in supported.
// An empty supported list accepts every registered format.
func CheckFormat(format string, supported []string) error {
	if len(supported) == 0 || IsFormatSupported(format, supported) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}
