package feature

import "image"

type hogOffsets struct {
	cell [4]int
	norm [4]int
	bin  int
}

type hogEvaluator struct {
	features []HOGFeature

	offsets []hogOffsets
	stride  int
	win     image.Point

	hist  *Histogram
	owned bool
	pos   int
}

// NewHOG returns an evaluator for the given HOG feature table.
func NewHOG(features []HOGFeature) Evaluator {
	return &hogEvaluator{features: features}
}

func (e *hogEvaluator) FeatureType() Type { return HOG }

func (e *hogEvaluator) SetImage(img *image.Gray, origWin, bufSize image.Point) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < origWin.X || h < origWin.Y {
		return false
	}
	bufSize = fitBuffer(bufSize, w, h)
	if !e.owned || !e.hist.Fits(bufSize) {
		e.hist = NewHistogram(bufSize)
		e.owned = true
	}
	e.hist.Compute(img)
	e.win = origWin

	if e.offsets == nil || e.stride != e.hist.Stride {
		stride := e.hist.Stride
		offsets := make([]hogOffsets, len(e.features))
		for i, f := range e.features {
			cells := f.Cells()
			r := f.Rect
			offsets[i] = hogOffsets{
				cell: SumOffsets(cells[f.Component/Bins], stride),
				norm: SumOffsets(image.Rect(r.Min.X, r.Min.Y, r.Min.X+2*r.Dx(), r.Min.Y+2*r.Dy()), stride),
				bin:  f.Component % Bins,
			}
		}
		e.offsets = offsets
		e.stride = stride
	}
	return true
}

func (e *hogEvaluator) SetWindow(pt image.Point) bool {
	if e.hist == nil || !windowFits(pt, e.win, e.hist.SumSize(), 2) {
		return false
	}
	e.pos = pt.Y*e.stride + pt.X
	return true
}

func (e *hogEvaluator) CalcOrd(i int) float64 {
	f := &e.offsets[i]
	res := sumAtF(e.hist.Bins[f.bin], e.pos, f.cell)
	if res <= 0.001 {
		return 0
	}
	norm := sumAtF(e.hist.Norm, e.pos, f.norm)
	return float64(res / (norm + 0.001))
}

// CalcCat is not meaningful for HOG features and always returns 0.
func (e *hogEvaluator) CalcCat(int) int { return 0 }

func (e *hogEvaluator) Clone() Evaluator {
	c := *e
	c.owned = false
	return &c
}
