// Package region maps crop rectangles between the displayed, EXIF-rotated
// coordinate space and the stored pixel space of the source image.
package region

import (
	"fmt"
	"image"

	"golang.org/x/image/math/f64"

	"github.com/menta2k/photo-crop/pkg/types"
)

// GeometryError reports a crop rectangle that does not fit the source image.
type GeometryError struct {
	Rect     image.Rectangle
	Width    int
	Height   int
	Rotation types.Rotation
	Err      error
}

func (e *GeometryError) Error() string {
	msg := fmt.Sprintf("rectangle %v is outside of the image (%d,%d,%d)", e.Rect, e.Width, e.Height, int(e.Rotation))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GeometryError) Unwrap() error { return e.Err }

// quarter holds exact cos/sin pairs for the four quarter turns, indexed by
// degrees/90. Angles are clockwise in y-down image coordinates.
var quarter = [4][2]float64{
	{1, 0},
	{0, 1},
	{-1, 0},
	{0, -1},
}

// RotationMatrix returns the affine matrix rotating points by deg degrees
// clockwise around the origin. deg must be a multiple of 90.
func RotationMatrix(deg int) f64.Aff3 {
	i := ((deg/90)%4 + 4) % 4
	c, s := quarter[i][0], quarter[i][1]
	return f64.Aff3{
		c, -s, 0,
		s, c, 0,
	}
}

// Apply maps the point (x, y) through m.
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Mul returns the matrix applying b first and then a.
func Mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// MapRect maps the corners of r through m and returns their bounding box.
func MapRect(m f64.Aff3, r image.Rectangle) image.Rectangle {
	corners := [4][2]float64{
		{float64(r.Min.X), float64(r.Min.Y)},
		{float64(r.Max.X), float64(r.Min.Y)},
		{float64(r.Min.X), float64(r.Max.Y)},
		{float64(r.Max.X), float64(r.Max.Y)},
	}
	x0, y0 := Apply(m, corners[0][0], corners[0][1])
	x1, y1 := x0, y0
	for _, c := range corners[1:] {
		x, y := Apply(m, c[0], c[1])
		x0, x1 = min(x0, x), max(x1, x)
		y0, y1 = min(y0, y), max(y1, y)
	}
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

// InverseRotate maps r from the displayed space of an image rotated by rot
// back into the stored space of the unrotated width x height image.
//
// The rectangle is rotated by -rot about the origin, then shifted by the full
// width and/or height wherever the rotation pushed it into negative
// coordinates.
func InverseRotate(r image.Rectangle, rot types.Rotation, width, height int) image.Rectangle {
	if rot == types.Rotate0 {
		return r
	}
	adjusted := MapRect(RotationMatrix(-int(rot)), r)
	var dx, dy int
	if adjusted.Min.X < 0 {
		dx = width
	}
	if adjusted.Min.Y < 0 {
		dy = height
	}
	return adjusted.Add(image.Pt(dx, dy))
}

// Validate checks that r is non-empty and lies within [0,width) x [0,height).
func Validate(r image.Rectangle, rot types.Rotation, width, height int) error {
	if r.Empty() || !r.In(image.Rect(0, 0, width, height)) {
		return &GeometryError{Rect: r, Width: width, Height: height, Rotation: rot}
	}
	return nil
}

// FitOutput returns the output size for a w x h crop. When both maxW and maxH
// are positive and the crop exceeds either, the result is the largest size
// with the crop's aspect ratio that fits in maxW x maxH. Neither side is
// rounded below one pixel.
func FitOutput(w, h, maxW, maxH int) (int, int) {
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) || h == 0 {
		return w, h
	}
	ratio := float32(w) / float32(h)
	if float32(maxW)/float32(maxH) > ratio {
		return max(int(float32(maxH)*ratio+.5), 1), maxH
	}
	return maxW, max(int(float32(maxW)/ratio+.5), 1)
}

// ScaleRect scales a rectangle selected on a preview decoded with the given
// sample size back to full-resolution coordinates.
func ScaleRect(r image.Rectangle, sampleSize int) image.Rectangle {
	if sampleSize <= 1 {
		return r
	}
	return image.Rect(r.Min.X*sampleSize, r.Min.Y*sampleSize, r.Max.X*sampleSize, r.Max.Y*sampleSize)
}

// ScaleRectTo is ScaleRect for a preview whose bounds are preview and whose
// full-resolution bounds are full: edges touching the preview border land on
// the full image border, so the rounding of a sampled decode never loses or
// invents a row or column.
func ScaleRectTo(r image.Rectangle, sampleSize int, preview, full image.Point) image.Rectangle {
	out := ScaleRect(r, sampleSize)
	if r.Max.X == preview.X {
		out.Max.X = full.X
	}
	if r.Max.Y == preview.Y {
		out.Max.Y = full.Y
	}
	return out
}

// DefaultRect returns the initial selection for a width x height display:
// centred, four fifths of the shorter side, shaped by aspect.
func DefaultRect(width, height int, aspect types.AspectRatio) image.Rectangle {
	cropWidth := min(width, height) * 4 / 5
	cropHeight := cropWidth
	if aspect.Fixed() {
		if aspect.X > aspect.Y {
			cropHeight = cropWidth * aspect.Y / aspect.X
		} else {
			cropWidth = cropHeight * aspect.X / aspect.Y
		}
	}
	x := (width - cropWidth) / 2
	y := (height - cropHeight) / 2
	return image.Rect(x, y, x+cropWidth, y+cropHeight)
}
