package cropper

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/photo-crop/pkg/types"
)

func TestFitAspect(t *testing.T) {
	tests := []struct {
		w, h   int
		aspect types.AspectRatio
		ww, wh int
	}{
		{400, 300, types.Free, 240, 240},
		{1, 1, types.Free, 1, 1},
		{400, 300, types.Square, 300, 300},
		{400, 300, types.AspectRatio{X: 16, Y: 9}, 400, 225},
		{400, 300, types.AspectRatio{X: 3, Y: 4}, 225, 300},
	}
	for _, tc := range tests {
		w, h := fitAspect(tc.w, tc.h, tc.aspect)
		require.Equal(t, tc.ww, w, tc.aspect.String())
		require.Equal(t, tc.wh, h, tc.aspect.String())
	}
}

func TestSuggest(t *testing.T) {
	// flat background with a detailed patch on the right
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			c := color.NRGBA{0x80, 0x80, 0x80, 0xFF}
			if x > 130 && x < 190 && y > 20 && y < 80 && (x/4+y/4)%2 == 0 {
				c = color.NRGBA{0xF0, 0xC0, 0x90, 0xFF}
			}
			img.SetNRGBA(x, y, c)
		}
	}

	crop, err := Suggest(context.Background(), img, types.Square)
	require.NoError(t, err)
	require.True(t, crop.In(img.Bounds()), "crop %v", crop)
	require.False(t, crop.Empty())
	ratio := float64(crop.Dx()) / float64(crop.Dy())
	require.InDelta(t, 1.0, ratio, 0.05)

	_, err = Suggest(context.Background(), image.NewNRGBA(image.Rectangle{}), types.Square)
	require.Error(t, err)
}

func TestSuggestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	_, err := Suggest(ctx, img, types.Free)
	require.ErrorIs(t, err, context.Canceled)
}
