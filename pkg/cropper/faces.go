package cropper

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"

	"github.com/menta2k/photo-crop/internal/log"
	"github.com/menta2k/photo-crop/pkg/types"
)

// FaceDetector biases crop suggestions towards faces found by a pigo
// cascade.
type FaceDetector struct {
	classifier *pigo.Pigo

	// MinQuality drops detections scoring below it.
	MinQuality float32
	// MinSizePct is the smallest face edge as a percentage of the shorter
	// image side.
	MinSizePct  int
	ShiftFactor float64
	ScaleFactor float64
	IoU         float64
}

// NewFaceDetector unpacks a pigo cascade.
func NewFaceDetector(cascade []byte) (*FaceDetector, error) {
	p := pigo.NewPigo()
	classifier, err := p.Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}
	return &FaceDetector{
		classifier:  classifier,
		MinQuality:  10.0,
		MinSizePct:  1,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
	}, nil
}

// LoadFaceDetector reads a pigo cascade file.
func LoadFaceDetector(path string) (*FaceDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}
	return NewFaceDetector(data)
}

// Detect returns face boxes in img's coordinate space.
func (f *FaceDetector) Detect(img image.Image) []image.Rectangle {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	// pigo indexes pixels from the origin
	src := imaging.Clone(img)
	cols, rows := b.Dx(), b.Dy()
	short := min(cols, rows)

	params := pigo.CascadeParams{
		MinSize:     max(short*f.MinSizePct/100, 20),
		MaxSize:     short,
		ShiftFactor: f.ShiftFactor,
		ScaleFactor: f.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := f.classifier.RunCascade(params, 0.0)
	dets = f.classifier.ClusterDetections(dets, f.IoU)

	var faces []image.Rectangle
	for _, d := range dets {
		if d.Q < f.MinQuality {
			continue
		}
		half := d.Scale / 2
		r := image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half).Add(b.Min).Intersect(b)
		if !r.Empty() {
			faces = append(faces, r)
		}
	}
	return faces
}

// Suggest centres the selection on the detected faces, falling back to the
// content-aware suggestion when none are found.
func (f *FaceDetector) Suggest(ctx context.Context, img image.Image, aspect types.AspectRatio) (image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return image.Rectangle{}, err
	}
	faces := f.Detect(img)
	if len(faces) == 0 {
		return Suggest(ctx, img, aspect)
	}
	focus := faces[0]
	for _, r := range faces[1:] {
		focus = focus.Union(r)
	}
	b := img.Bounds()
	log.Debugf("%d faces in %v, focus %v", len(faces), b, focus)
	w, h := fitAspect(b.Dx(), b.Dy(), aspect)
	return centerOn(b.Dx(), b.Dy(), w, h, focus.Sub(b.Min)), nil
}

// centerOn places a w x h selection over focus, kept inside width x height.
func centerOn(width, height, w, h int, focus image.Rectangle) image.Rectangle {
	cx := (focus.Min.X + focus.Max.X) / 2
	cy := (focus.Min.Y + focus.Max.Y) / 2
	x := min(max(cx-w/2, 0), width-w)
	y := min(max(cy-h/2, 0), height-h)
	return image.Rect(x, y, x+w, y+h)
}
