package feature

import (
	"image"
	"math"
)

type haarOffsets struct {
	ofs    [3][4]int
	weight [3]float32
	tilted bool
}

type haarEvaluator struct {
	features  []HaarFeature
	hasTilted bool

	// offsets is replaced, never modified, when the buffer geometry changes,
	// so clones made at an earlier scale keep a consistent table.
	offsets []haarOffsets
	stride  int
	win     image.Point
	normOfs [4]int
	area    float64

	in    *Integral
	owned bool

	pos        int
	normFactor float64
}

// NewHaar returns an evaluator for the given Haar feature table.
// The table is shared by every clone and must not be modified afterwards.
func NewHaar(features []HaarFeature) Evaluator {
	e := &haarEvaluator{features: features}
	for _, f := range features {
		if f.Tilted {
			e.hasTilted = true
			break
		}
	}
	return e
}

func (e *haarEvaluator) FeatureType() Type { return Haar }

func (e *haarEvaluator) transforms() Transforms {
	t := Squares
	if e.hasTilted {
		t |= Rotated
	}
	return t
}

func (e *haarEvaluator) SetImage(img *image.Gray, origWin, bufSize image.Point) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < origWin.X || h < origWin.Y {
		return false
	}
	bufSize = fitBuffer(bufSize, w, h)
	if !e.owned || !e.in.Fits(bufSize, e.transforms()) {
		e.in = NewIntegral(bufSize, e.transforms())
		e.owned = true
	}
	e.in.Compute(img)

	if e.offsets == nil || e.stride != e.in.Stride || e.win != origWin {
		e.computeOffsets(e.in.Stride, origWin)
	}
	return true
}

func (e *haarEvaluator) computeOffsets(stride int, win image.Point) {
	offsets := make([]haarOffsets, len(e.features))
	for i, f := range e.features {
		o := &offsets[i]
		o.tilted = f.Tilted
		for j, r := range f.Rects {
			o.weight[j] = r.Weight
			if r.Weight == 0 {
				continue
			}
			if f.Tilted {
				o.ofs[j] = TiltedOffsets(r.Rectangle, stride)
			} else {
				o.ofs[j] = SumOffsets(r.Rectangle, stride)
			}
		}
	}
	norm := image.Rect(1, 1, win.X-1, win.Y-1)
	e.offsets = offsets
	e.stride = stride
	e.win = win
	e.normOfs = SumOffsets(norm, stride)
	e.area = float64(norm.Dx() * norm.Dy())
}

func (e *haarEvaluator) SetWindow(pt image.Point) bool {
	if e.in == nil || !windowFits(pt, e.win, e.in.SumSize(), 0) {
		return false
	}
	e.pos = pt.Y*e.stride + pt.X

	s := float64(sumAt(e.in.Sum, e.pos, e.normOfs))
	sq := sqSumAt(e.in.SqSum, e.pos, e.normOfs)
	nf := e.area*sq - s*s
	if nf > 0 {
		nf = math.Sqrt(nf)
	} else {
		nf = 1
	}
	e.normFactor = 1 / nf
	return true
}

func (e *haarEvaluator) CalcOrd(i int) float64 {
	f := &e.offsets[i]
	src := e.in.Sum
	if f.tilted {
		src = e.in.Tilted
	}
	// the conversions keep the products from being fused into the sums
	ret := float32(f.weight[0]*float32(sumAt(src, e.pos, f.ofs[0]))) +
		float32(f.weight[1]*float32(sumAt(src, e.pos, f.ofs[1])))
	if f.weight[2] != 0 {
		ret += float32(f.weight[2] * float32(sumAt(src, e.pos, f.ofs[2])))
	}
	return float64(float32(float64(ret) * e.normFactor))
}

// CalcCat is not meaningful for Haar features and always returns 0.
func (e *haarEvaluator) CalcCat(int) int { return 0 }

func (e *haarEvaluator) Clone() Evaluator {
	c := *e
	c.owned = false
	return &c
}

func (e *haarEvaluator) Integral() *Integral { return e.in }

// NormFactor returns the variance normalization factor of the current window.
func (e *haarEvaluator) NormFactor() float64 { return e.normFactor }
