package cropper

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"

	"github.com/menta2k/photo-crop/pkg/region"
	"github.com/menta2k/photo-crop/pkg/types"
)

// resizer implements the smartcrop resizer on top of imaging.
type resizer struct {
	filter imaging.ResampleFilter
}

func (r resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.filter)
}

// Suggest returns a content-aware selection on img with the given aspect
// ratio. A free-form suggestion has the size of the default selection.
func Suggest(ctx context.Context, img image.Image, aspect types.AspectRatio) (image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return image.Rectangle{}, err
	}
	b := img.Bounds()
	if b.Empty() {
		return image.Rectangle{}, fmt.Errorf("cannot suggest a crop for an empty image")
	}
	w, h := fitAspect(b.Dx(), b.Dy(), aspect)

	analyzer := smartcrop.NewAnalyzer(resizer{filter: imaging.Linear})

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)
	go func() {
		crop, err := analyzer.FindBestCrop(img, w, h)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return image.Rectangle{}, ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			return image.Rectangle{}, fmt.Errorf("finding best crop: %w", res.err)
		}
		crop := res.crop.Intersect(b).Sub(b.Min)
		if crop.Empty() {
			return image.Rectangle{}, fmt.Errorf("finding best crop: empty result")
		}
		return crop, nil
	}
}

// fitAspect returns the largest w x h with the given aspect that fits in
// width x height. Free-form uses the default selection's size.
func fitAspect(width, height int, aspect types.AspectRatio) (int, int) {
	if !aspect.Fixed() {
		r := region.DefaultRect(width, height, aspect)
		return max(r.Dx(), 1), max(r.Dy(), 1)
	}
	w := width
	h := w * aspect.Y / aspect.X
	if h > height {
		h = height
		w = h * aspect.X / aspect.Y
	}
	return max(w, 1), max(h, 1)
}
