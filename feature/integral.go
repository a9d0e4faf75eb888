package feature

import (
	"image"
)

// Transforms selects the optional running sums computed along with the plain one.
type Transforms uint8

const (
	// Squares requests the running sum of squared pixel values.
	Squares Transforms = 1 << iota
	// Rotated requests the 45 degree tilted running sum.
	Rotated
)

// Integral holds the running-sum transforms of one image. All buffers share the
// same layout: Stride elements per row, with row and column 0 set to zero so that
// Sum[y*Stride+x] is the sum of the pixels above and left of (x, y).
type Integral struct {
	Size   image.Point // size of the image the transform was computed for
	Stride int
	Sum    []int32
	SqSum  []float64
	Tilted []int32

	rows int
}

// NewIntegral allocates the buffers of a transform laid out as bufSize.
func NewIntegral(bufSize image.Point, t Transforms) *Integral {
	n := bufSize.X * bufSize.Y
	in := &Integral{
		Stride: bufSize.X,
		Sum:    make([]int32, n),
		rows:   bufSize.Y,
	}
	if t&Squares != 0 {
		in.SqSum = make([]float64, n)
	}
	if t&Rotated != 0 {
		in.Tilted = make([]int32, n)
	}
	return in
}

// Fits reports whether the buffers are laid out as bufSize and hold the requested transforms.
func (in *Integral) Fits(bufSize image.Point, t Transforms) bool {
	if in == nil || in.Stride != bufSize.X || in.rows < bufSize.Y {
		return false
	}
	if t&Squares != 0 && in.SqSum == nil {
		return false
	}
	if t&Rotated != 0 && in.Tilted == nil {
		return false
	}
	return true
}

// SumSize returns the size of the valid region of the transform.
func (in *Integral) SumSize() image.Point {
	return in.Size.Add(image.Pt(1, 1))
}

// Compute fills the transforms with the running sums of img.
// The buffers must be large enough to hold img, see Fits.
func (in *Integral) Compute(img *image.Gray) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	in.Size = image.Pt(w, h)
	stride := in.Stride

	for x := 0; x <= w; x++ {
		in.Sum[x] = 0
		if in.SqSum != nil {
			in.SqSum[x] = 0
		}
	}
	for y := 1; y <= h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y-1):]
		base, prev := y*stride, (y-1)*stride

		var (
			s  int32
			sq float64
		)
		in.Sum[base] = 0
		for x := 1; x <= w; x++ {
			s += int32(row[x-1])
			in.Sum[base+x] = in.Sum[prev+x] + s
		}
		if in.SqSum != nil {
			in.SqSum[base] = 0
			for x := 1; x <= w; x++ {
				v := float64(row[x-1])
				sq += v * v
				in.SqSum[base+x] = in.SqSum[prev+x] + sq
			}
		}
	}
	if in.Tilted != nil {
		in.computeTilted(img)
	}
}

// computeTilted fills the tilted running sum, where Tilted(X, Y) is the sum of the
// pixels (x, y) with y < Y and |x - X + 1| <= Y - y - 1. It follows the recurrence
//
//	T(X, Y) = T(X-1, Y-1) + T(X+1, Y-1) - T(X, Y-2) + I(X-1, Y-1) + I(X-1, Y-2)
//
// evaluated on a row wide enough that the triangles never reach its ends.
func (in *Integral) computeTilted(img *image.Gray) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := in.Stride
	pad := h + 1
	ext := w + 1 + 2*pad

	pixel := func(x, y int) int32 {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		return int32(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	prev2 := make([]int32, ext)
	prev1 := make([]int32, ext)
	cur := make([]int32, ext)

	for x := 0; x <= w; x++ {
		in.Tilted[x] = 0
	}
	for y := 1; y <= h; y++ {
		for i := 0; i < ext; i++ {
			x := i - pad
			v := pixel(x-1, y-1) + pixel(x-1, y-2) - prev2[i]
			if i > 0 {
				v += prev1[i-1]
			}
			if i+1 < ext {
				v += prev1[i+1]
			}
			cur[i] = v
		}
		copy(in.Tilted[y*stride:y*stride+w+1], cur[pad:pad+w+1])
		prev2, prev1, cur = prev1, cur, prev2
	}
}

// RectSum returns the sum of the pixels inside r.
func (in *Integral) RectSum(r image.Rectangle) int32 {
	return sumAt(in.Sum, 0, SumOffsets(r, in.Stride))
}

// TiltedSum returns the sum of the pixels inside the rotated rectangle r.
func (in *Integral) TiltedSum(r image.Rectangle) int32 {
	return sumAt(in.Tilted, 0, TiltedOffsets(r, in.Stride))
}

func sumAt(s []int32, base int, ofs [4]int) int32 {
	return s[base+ofs[0]] - s[base+ofs[1]] - s[base+ofs[2]] + s[base+ofs[3]]
}

func sqSumAt(s []float64, base int, ofs [4]int) float64 {
	return s[base+ofs[0]] - s[base+ofs[1]] - s[base+ofs[2]] + s[base+ofs[3]]
}

// BlockSum returns the plain sum of the rectangle with corner offsets ofs, relative to base.
func (in *Integral) BlockSum(base int, ofs [4]int) int32 {
	return sumAt(in.Sum, base, ofs)
}

// BlockSqSum returns the squared sum of the rectangle with corner offsets ofs, relative to base.
func (in *Integral) BlockSqSum(base int, ofs [4]int) float64 {
	return sqSumAt(in.SqSum, base, ofs)
}
