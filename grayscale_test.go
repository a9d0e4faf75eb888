package objdetect

import (
	"image"
	"image/color"
	"image/color/palette"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeNRGBAImage(rect image.Rectangle, colors []color.Color) *image.NRGBA {
	img := image.NewNRGBA(rect)
	i := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := color.NRGBAModel.Convert(colors[i%len(colors)]).(color.NRGBA)
			c.A = 0xff
			img.SetNRGBA(x, y, c)
			i++
		}
	}
	return img
}

func makeYCbCrImage(rect image.Rectangle, colors []color.Color, sr image.YCbCrSubsampleRatio) *image.YCbCr {
	img := image.NewYCbCr(rect, sr)
	j := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			iy := img.YOffset(x, y)
			ic := img.COffset(x, y)
			c := color.NRGBAModel.Convert(colors[j%len(colors)]).(color.NRGBA)
			img.Y[iy], img.Cb[ic], img.Cr[ic] = color.RGBToYCbCr(c.R, c.G, c.B)
			j++
		}
	}
	return img
}

func TestGrayscale_Anchored(t *testing.T) {
	rect := image.Rect(-1, -1, 15, 15)
	testCases := []struct {
		name string
		img  image.Image
	}{
		{name: "NRGBA", img: makeNRGBAImage(rect, palette.Plan9)},
		{name: "YCbCr-444", img: makeYCbCrImage(rect, palette.Plan9, image.YCbCrSubsampleRatio444)},
		{name: "YCbCr-420", img: makeYCbCrImage(rect, palette.Plan9, image.YCbCrSubsampleRatio420)},
		{name: "Paletted", img: func() image.Image {
			p := image.NewPaletted(rect, palette.WebSafe)
			for i := range p.Pix {
				p.Pix[i] = uint8(i % len(palette.WebSafe))
			}
			return p
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gray := ToGray(tc.img)
			require.Equal(t, image.Rect(0, 0, 16, 16), gray.Bounds())

			r := tc.img.Bounds()
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					want := color.GrayModel.Convert(tc.img.At(x, y)).(color.Gray).Y
					got := gray.GrayAt(x-r.Min.X, y-r.Min.Y).Y
					assert.InDelta(t, want, got, 2, "pixel (%d, %d)", x, y)
				}
			}
		})
	}
}

func TestGrayscale_KeepsGrayImages(t *testing.T) {
	img := noiseGray(8, 6, 1)
	assert.Same(t, img, ToGray(img))

	sub := img.SubImage(image.Rect(2, 1, 6, 5)).(*image.Gray)
	gray := ToGray(sub)
	require.Equal(t, image.Rect(0, 0, 4, 4), gray.Bounds())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, img.GrayAt(x+2, y+1), gray.GrayAt(x, y))
		}
	}
}

func TestGrayscale_EqualChannels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < img.Bounds().Dx(); i++ {
		for j := 0; j < img.Bounds().Dy(); j++ {
			img.Set(i, j, color.RGBA{177, 177, 177, 255})
		}
	}
	for _, p := range ToGray(img).Pix {
		assert.Equal(t, uint8(177), p)
	}
}
