// Package overlay draws a crop selection onto a preview image.
package overlay

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Colors
var (
	gold = color.NRGBA{255, 204, 0, 255} // selection
	red  = color.NRGBA{255, 0, 0, 255}   // selection center
	blue = color.NRGBA{0, 170, 255, 255} // image center
)

// Selection returns a copy of img with the area outside sel darkened, sel
// outlined, and crosshairs on the selection and image centres.
func Selection(img image.Image, sel image.Rectangle) *image.NRGBA {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	w, h := b.Dx(), b.Dy()
	sel = sel.Intersect(b)

	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(min(w, h))))   // ~1% of min side

	dimOutside(nrgba, sel)
	if !sel.Empty() {
		drawBox(nrgba, sel, gold, stroke)
		cx, cy := (sel.Min.X+sel.Max.X)/2, (sel.Min.Y+sel.Max.Y)/2
		drawHLine(nrgba, cy, cx-cross, cx+cross, red)
		drawVLine(nrgba, cx, cy-cross, cy+cross, red)
	}

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

// dimOutside halves the brightness of every pixel outside sel.
func dimOutside(img *image.NRGBA, sel image.Rectangle) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		i := y * img.Stride
		for x := 0; x < b.Dx(); x, i = x+1, i+4 {
			if image.Pt(x, y).In(sel) {
				continue
			}
			img.Pix[i+0] /= 2
			img.Pix[i+1] /= 2
			img.Pix[i+2] /= 2
		}
	}
}

func drawBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0, x1 = max(x0, 0), min(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0, y1 = max(y0, 0), min(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
