// Package cropper cuts a rectangle selected on a rotated photo out of the
// stored image, rotating and scaling it into the requested output size.
package cropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/photo-crop/internal/log"
	"github.com/menta2k/photo-crop/pkg/codec"
	"github.com/menta2k/photo-crop/pkg/decoder"
	"github.com/menta2k/photo-crop/pkg/region"
	"github.com/menta2k/photo-crop/pkg/source"
	"github.com/menta2k/photo-crop/pkg/types"
)

// Cropper runs the region crop pipeline.
type Cropper struct {
	// Budget caps every decoded pixel buffer. Zero means unlimited.
	Budget decoder.Budget
	// Filter is used when only scaling is needed.
	Filter imaging.ResampleFilter
	// FullDecode skips the region decoder and always decodes the whole image.
	FullDecode bool
}

// New returns a Cropper with the given memory budget.
func New(budget decoder.Budget) *Cropper {
	return &Cropper{Budget: budget, Filter: imaging.Linear}
}

// Request describes one crop.
type Request struct {
	// Rect is the selection in displayed coordinates, i.e. after Rotation has
	// been applied to the stored image.
	Rect     image.Rectangle
	Rotation types.Rotation
	// OutWidth and OutHeight are the displayed output size. Zero means the
	// size of Rect.
	OutWidth  int
	OutHeight int
}

// Output is the result of a crop.
type Output struct {
	Image image.Image
	// Region is the rectangle that was read from the stored image.
	Region image.Rectangle
}

// CropSource opens src and crops it.
func (c *Cropper) CropSource(ctx context.Context, src source.Source, req Request) (Output, error) {
	rc, err := source.OpenContext(ctx, src)
	if err != nil {
		return Output{}, &Error{Kind: KindInputUnreadable, Op: "open " + src.Name(), Err: err}
	}
	defer rc.Close()
	return c.Crop(ctx, rc, req)
}

// Crop cuts req.Rect out of the image in rs.
func (c *Cropper) Crop(ctx context.Context, rs io.ReadSeeker, req Request) (Output, error) {
	if !req.Rotation.Valid() {
		return Output{}, &Error{Kind: KindGeometry, Op: "crop", Err: fmt.Errorf("invalid rotation %d", int(req.Rotation))}
	}
	outW, outH := req.OutWidth, req.OutHeight
	if outW <= 0 || outH <= 0 {
		outW, outH = req.Rect.Dx(), req.Rect.Dy()
	}
	// Output size in stored orientation.
	outW, outH = req.Rotation.Size(outW, outH)

	var rd decoder.RegionDecoder
	if !c.FullDecode {
		var err error
		rd, err = decoder.NewRegionDecoder(rs, c.Budget)
		if err != nil {
			if !errors.Is(err, decoder.ErrRegionUnsupported) {
				log.Debugf("region decoder probe failed, using full decode: %v", err)
			}
			rd = nil
		}
	}

	var width, height int
	if rd != nil {
		width, height = rd.Width(), rd.Height()
	} else {
		info, err := codec.DecodeConfig(rs)
		if err != nil {
			return Output{}, &Error{Kind: KindInputUnreadable, Op: "crop", Err: err}
		}
		width, height = info.Width, info.Height
	}

	r := region.InverseRotate(req.Rect, req.Rotation, width, height)
	if err := region.Validate(r, req.Rotation, width, height); err != nil {
		return Output{}, Wrap("crop", KindGeometry, err)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	var cropped image.Image
	if rd != nil {
		img, err := rd.DecodeRegion(r)
		if err != nil {
			if !errors.Is(err, decoder.ErrOutOfMemory) {
				err = &region.GeometryError{Rect: r, Width: width, Height: height, Rotation: req.Rotation, Err: err}
			}
			return Output{}, Wrap("decode region", KindGeometry, err)
		}
		cropped = img
	} else {
		full, _, err := codec.Decode(rs, c.Budget)
		if err != nil {
			return Output{}, Wrap("decode", KindInputUnreadable, err)
		}
		cropped = imaging.Crop(full, r.Add(full.Bounds().Min))
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	rw, rh := r.Dx(), r.Dy()
	switch {
	case req.Rotation != types.Rotate0 && rw == outW && rh == outH:
		cropped = Rotate(cropped, req.Rotation)
	case req.Rotation != types.Rotate0:
		if err := c.Budget.Check(outW, outH); err != nil {
			return Output{}, Wrap("transform", KindOutOfMemory, err)
		}
		cropped = transform(cropped, req.Rotation, outW, outH)
	case rw > outW || rh > outH:
		cropped = imaging.Resize(cropped, outW, outH, c.Filter)
	}

	log.Debugf("cropped %v (rotation %d) from %dx%d into %dx%d", r, int(req.Rotation), width, height,
		cropped.Bounds().Dx(), cropped.Bounds().Dy())
	return Output{Image: cropped, Region: r}, nil
}

// Rotate turns img clockwise by rot. imaging rotates counter-clockwise.
func Rotate(img image.Image, rot types.Rotation) image.Image {
	switch rot {
	case types.Rotate90:
		return imaging.Rotate270(img)
	case types.Rotate180:
		return imaging.Rotate180(img)
	case types.Rotate270:
		return imaging.Rotate90(img)
	}
	return img
}

// transform scales img to w x h (stored orientation) and rotates it clockwise
// by rot in a single resampling pass. The result has the displayed size.
func transform(img image.Image, rot types.Rotation, w, h int) image.Image {
	b := img.Bounds()
	sx := float64(w) / float64(b.Dx())
	sy := float64(h) / float64(b.Dy())
	scale := f64.Aff3{
		sx, 0, -sx * float64(b.Min.X),
		0, sy, -sy * float64(b.Min.Y),
	}
	rm := region.RotationMatrix(int(rot))
	// Shift the rotated image back into the positive quadrant.
	moved := region.MapRect(rm, image.Rect(0, 0, w, h))
	rm[2] -= float64(moved.Min.X)
	rm[5] -= float64(moved.Min.Y)

	dw, dh := rot.Size(w, h)
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	draw.BiLinear.Transform(dst, region.Mul(rm, scale), img, b, draw.Src, nil)
	return dst
}
