package objdetect

import (
	"image"
	"image/color"
)

// Fixed point luma coefficients with 14 fractional bits.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
)

func luma(r, g, b uint32) uint8 {
	return uint8((r*lumaR + g*lumaG + b*lumaB + 1<<(lumaShift-1)) >> lumaShift)
}

// ToGray converts the image to 8 bit grayscale with its min-point at (0, 0).
// A *image.Gray already anchored at the origin is returned as is, without copying.
// The alpha channel is ignored.
func ToGray(img image.Image) *image.Gray {
	srcBounds := img.Bounds()
	if src0, ok := img.(*image.Gray); ok && srcBounds.Min == (image.Point{}) {
		return src0
	}
	srcMinX := srcBounds.Min.X
	srcMinY := srcBounds.Min.Y

	dst := image.NewGray(srcBounds.Sub(srcBounds.Min))
	dstW, dstH := srcBounds.Dx(), srcBounds.Dy()

	switch src := img.(type) {
	case *image.Gray:
		for dstY := 0; dstY < dstH; dstY++ {
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			copy(dst.Pix[dstY*dst.Stride:dstY*dst.Stride+dstW], src.Pix[si:si+dstW])
		}
	case *image.YCbCr:
		for dstY := 0; dstY < dstH; dstY++ {
			si := src.YOffset(srcMinX, srcMinY+dstY)
			copy(dst.Pix[dstY*dst.Stride:dstY*dst.Stride+dstW], src.Y[si:si+dstW])
		}
	case *image.NRGBA:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dstY * dst.Stride
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				p := src.Pix[si : si+3 : si+3]
				dst.Pix[di+dstX] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
				si += 4
			}
		}
	case *image.RGBA:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dstY * dst.Stride
			si := src.PixOffset(srcMinX, srcMinY+dstY)
			for dstX := 0; dstX < dstW; dstX++ {
				p := src.Pix[si : si+3 : si+3]
				dst.Pix[di+dstX] = luma(uint32(p[0]), uint32(p[1]), uint32(p[2]))
				si += 4
			}
		}
	default:
		for dstY := 0; dstY < dstH; dstY++ {
			di := dstY * dst.Stride
			for dstX := 0; dstX < dstW; dstX++ {
				c := color.NRGBAModel.Convert(img.At(srcMinX+dstX, srcMinY+dstY)).(color.NRGBA)
				dst.Pix[di+dstX] = luma(uint32(c.R), uint32(c.G), uint32(c.B))
			}
		}
	}
	return dst
}
