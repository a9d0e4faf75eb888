package feature

import "image"

type lbpEvaluator struct {
	features []LBPFeature

	offsets [][16]int
	stride  int
	win     image.Point

	in    *Integral
	owned bool
	pos   int
}

// NewLBP returns an evaluator for the given LBP feature table.
func NewLBP(features []LBPFeature) Evaluator {
	return &lbpEvaluator{features: features}
}

func (e *lbpEvaluator) FeatureType() Type { return LBP }

func (e *lbpEvaluator) SetImage(img *image.Gray, origWin, bufSize image.Point) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < origWin.X || h < origWin.Y {
		return false
	}
	bufSize = fitBuffer(bufSize, w, h)
	if !e.owned || !e.in.Fits(bufSize, 0) {
		e.in = NewIntegral(bufSize, 0)
		e.owned = true
	}
	e.in.Compute(img)
	e.win = origWin

	if e.offsets == nil || e.stride != e.in.Stride {
		offsets := make([][16]int, len(e.features))
		for i, f := range e.features {
			offsets[i] = LBPOffsets(f.Rect, e.in.Stride)
		}
		e.offsets = offsets
		e.stride = e.in.Stride
	}
	return true
}

// LBPOffsets returns the offsets of the 4x4 block corners, row major.
func LBPOffsets(r image.Rectangle, stride int) [16]int {
	var ofs [16]int
	w, h := r.Dx(), r.Dy()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			ofs[i*4+j] = r.Min.X + j*w + stride*(r.Min.Y+i*h)
		}
	}
	return ofs
}

func (e *lbpEvaluator) SetWindow(pt image.Point) bool {
	if e.in == nil || !windowFits(pt, e.win, e.in.SumSize(), 0) {
		return false
	}
	e.pos = pt.Y*e.stride + pt.X
	return true
}

// LBPCode computes the local binary pattern of the block grid whose corners are
// found at base+ofs in the running sum s. Neighbours are visited clockwise from the
// top-left block, the first one giving the most significant bit.
func LBPCode(s []int32, base int, ofs *[16]int) int {
	blk := func(a, b, c, d int) int32 {
		return s[base+ofs[a]] - s[base+ofs[b]] - s[base+ofs[c]] + s[base+ofs[d]]
	}
	bit := func(v, center int32, mask int) int {
		if v >= center {
			return mask
		}
		return 0
	}
	c := blk(5, 6, 9, 10)
	return bit(blk(0, 1, 4, 5), c, 128) |
		bit(blk(1, 2, 5, 6), c, 64) |
		bit(blk(2, 3, 6, 7), c, 32) |
		bit(blk(6, 7, 10, 11), c, 16) |
		bit(blk(10, 11, 14, 15), c, 8) |
		bit(blk(9, 10, 13, 14), c, 4) |
		bit(blk(8, 9, 12, 13), c, 2) |
		bit(blk(4, 5, 8, 9), c, 1)
}

func (e *lbpEvaluator) CalcCat(i int) int {
	return LBPCode(e.in.Sum, e.pos, &e.offsets[i])
}

func (e *lbpEvaluator) CalcOrd(i int) float64 {
	return float64(e.CalcCat(i))
}

func (e *lbpEvaluator) Clone() Evaluator {
	c := *e
	c.owned = false
	return &c
}

func (e *lbpEvaluator) Integral() *Integral { return e.in }
