package decoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func randNRGBA(rnd *rand.Rand, w, h int, opaque bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(rnd.Intn(256))
			if opaque {
				a = 0xFF
			}
			img.SetNRGBA(x, y, color.NRGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), a})
		}
	}
	return img
}

func encodeBMP(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	return buf.Bytes()
}

func requireSamePixels(t *testing.T, want, got image.Image) {
	t.Helper()
	w, g := imaging.Clone(want), imaging.Clone(got)
	require.Equal(t, w.Bounds(), g.Bounds())
	require.Equal(t, w.Pix, g.Pix)
}

func TestRegionMatchesFullDecode(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for _, opaque := range []bool{true, false} {
		for i := 0; i < 25; i++ {
			w := 1 + rnd.Intn(120)
			h := 1 + rnd.Intn(120)
			data := encodeBMP(t, randNRGBA(rnd, w, h, opaque))

			full, err := bmp.Decode(bytes.NewReader(data))
			require.NoError(t, err)

			dec, err := NewRegionDecoder(bytes.NewReader(data), 0)
			require.NoError(t, err)
			require.Equal(t, w, dec.Width())
			require.Equal(t, h, dec.Height())

			x0, y0 := rnd.Intn(w), rnd.Intn(h)
			r := image.Rect(x0, y0, x0+1+rnd.Intn(w-x0), y0+1+rnd.Intn(h-y0))
			got, err := dec.DecodeRegion(r)
			require.NoError(t, err)
			requireSamePixels(t, imaging.Crop(full, r), got)
		}
	}
}

func TestRegionDecodeTopDown(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	img := randNRGBA(rnd, 9, 6, true)
	data := encodeBMP(t, img)

	// flip the stored rows and negate the height to get a top-down file
	hdr, err := decodeBMPHeader(bytes.NewReader(data))
	require.NoError(t, err)
	stride := int(hdr.rowBytes())
	off := int(hdr.pixelOffset)
	flipped := append([]byte(nil), data...)
	for y := 0; y < hdr.height; y++ {
		copy(flipped[off+y*stride:off+(y+1)*stride], data[off+(hdr.height-1-y)*stride:])
	}
	negHeight := int32(-hdr.height)
	flipped[22] = byte(negHeight)
	flipped[23] = byte(negHeight >> 8)
	flipped[24] = byte(negHeight >> 16)
	flipped[25] = byte(negHeight >> 24)

	dec, err := NewRegionDecoder(bytes.NewReader(flipped), 0)
	require.NoError(t, err)
	got, err := dec.DecodeRegion(image.Rect(2, 1, 8, 5))
	require.NoError(t, err)
	requireSamePixels(t, imaging.Crop(img, image.Rect(2, 1, 8, 5)), got)
}

func TestRegionDecodeOutOfBounds(t *testing.T) {
	data := encodeBMP(t, randNRGBA(rand.New(rand.NewSource(1)), 10, 10, true))
	dec, err := NewRegionDecoder(bytes.NewReader(data), 0)
	require.NoError(t, err)

	_, err = dec.DecodeRegion(image.Rect(5, 5, 11, 10))
	require.Error(t, err)
	_, err = dec.DecodeRegion(image.Rect(5, 5, 5, 10))
	require.Error(t, err)
}

func TestUnsupportedEncodings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	_, err := NewRegionDecoder(bytes.NewReader(buf.Bytes()), 0)
	require.True(t, errors.Is(err, ErrRegionUnsupported))

	// paletted BMP
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	_, err = NewRegionDecoder(bytes.NewReader(encodeBMP(t, pal)), 0)
	require.True(t, errors.Is(err, ErrRegionUnsupported))

	_, err = NewRegionDecoder(bytes.NewReader(nil), 0)
	require.True(t, errors.Is(err, ErrRegionUnsupported))
}

func TestBudget(t *testing.T) {
	require.NoError(t, Budget(0).Check(100000, 100000))
	require.NoError(t, Budget(400).Check(10, 10))

	err := Budget(399).Check(10, 10)
	require.True(t, errors.Is(err, ErrOutOfMemory))

	data := encodeBMP(t, randNRGBA(rand.New(rand.NewSource(1)), 20, 20, true))
	dec, err := NewRegionDecoder(bytes.NewReader(data), Budget(100))
	require.NoError(t, err)
	_, err = dec.DecodeRegion(image.Rect(0, 0, 20, 20))
	require.True(t, errors.Is(err, ErrOutOfMemory))
	_, err = dec.DecodeRegion(image.Rect(0, 0, 5, 5))
	require.NoError(t, err)
}
