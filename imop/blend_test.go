package imop

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlend_ParseMode(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMode("")
	assert.NoError(err)
	assert.Equal(Normal, m)

	m, err = ParseMode(" Multiply ")
	assert.NoError(err)
	assert.Equal(Multiply, m)

	_, err = ParseMode("blend_mode_not_supported")
	assert.Error(err)
}

func TestBlend_Modes(t *testing.T) {
	backdrop := color.NRGBA{R: 0x80, G: 0x40, B: 0xff, A: 0xff}
	src := color.NRGBA{R: 0xff, G: 0x80, B: 0x00, A: 0xff}

	testCases := []struct {
		mode Mode
		want color.NRGBA
	}{
		{Normal, color.NRGBA{R: 0xff, G: 0x80, B: 0x00, A: 0xff}},
		{Darken, color.NRGBA{R: 0x80, G: 0x40, B: 0x00, A: 0xff}},
		{Lighten, color.NRGBA{R: 0xff, G: 0x80, B: 0xff, A: 0xff}},
		{Multiply, color.NRGBA{R: 0x80, G: 0x20, B: 0x00, A: 0xff}},
		{Screen, color.NRGBA{R: 0xff, G: 0xa0, B: 0xff, A: 0xff}},
		{Overlay, color.NRGBA{R: 0xff, G: 0x40, B: 0xff, A: 0xff}},
	}
	for _, tc := range testCases {
		t.Run(string(tc.mode), func(t *testing.T) {
			got := tc.mode.Blend(src, backdrop)
			assert.InDelta(t, tc.want.R, got.R, 1)
			assert.InDelta(t, tc.want.G, got.G, 1)
			assert.InDelta(t, tc.want.B, got.B, 1)
			assert.Equal(t, tc.want.A, got.A)
		})
	}
}

func TestBlend_TranslucentSource(t *testing.T) {
	backdrop := color.NRGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff}
	got := Normal.Blend(color.NRGBA{R: 0xff, A: 0x80}, backdrop)
	assert.InDelta(t, 0x80, got.R, 1)
	assert.Equal(t, uint8(0xff), got.A)

	assert.Equal(t, backdrop, Screen.Blend(color.NRGBA{R: 0xff, G: 0xff, B: 0xff}, backdrop))
}

func TestFill(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	Fill(img, image.Rect(4, 4, 20, 20), color.NRGBA{R: 0xff, A: 0xff}, Multiply)

	require.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
	assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, img.NRGBAAt(5, 5))
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, img.NRGBAAt(3, 3))
}
