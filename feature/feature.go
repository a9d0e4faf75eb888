// Package feature implements the feature evaluators used by the cascade classifier
// together with the per-scale integral transforms they read from.
//
// An Evaluator is bound to one scale at a time through SetImage and to one detection
// window through SetWindow. Feature values are then read in constant time from the
// precomputed transforms, using offsets relative to the current window.
package feature

import (
	"fmt"
	"image"
	"strings"
)

// Type identifies the kind of features a cascade was trained with.
type Type int

const (
	// Haar features are weighted sums of up to three (optionally tilted) rectangles.
	Haar Type = iota
	// LBP features are 8-bit local binary patterns over a 3x3 grid of blocks.
	LBP
	// HOG features are normalized bins of a four cell gradient histogram.
	HOG
)

// Unknown is reported for cascades whose features are not evaluated by this package.
const Unknown Type = -1

func (t Type) String() string {
	switch t {
	case Haar:
		return "HAAR"
	case LBP:
		return "LBP"
	case HOG:
		return "HOG"
	case Unknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType converts the feature type name found in a cascade description.
func ParseType(name string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "HAAR":
		return Haar, nil
	case "LBP":
		return LBP, nil
	case "HOG":
		return HOG, nil
	}
	return 0, fmt.Errorf("unsupported feature type %q", name)
}

// Evaluator computes feature values for the current window of the current scale.
//
// Implementations are not safe for concurrent use. Concurrent scanners must each work
// on their own Clone: clones share the feature table and the read-only transform of
// the scale they were cloned at, but keep their own window state and never write to
// buffers they did not allocate.
type Evaluator interface {
	// SetImage computes the transforms of img into buffers laid out as bufSize
	// (row stride x rows). It reports false if img is smaller than origWin.
	SetImage(img *image.Gray, origWin, bufSize image.Point) bool
	// SetWindow positions the evaluator at pt. It reports false if a window of the
	// original size does not fit inside the current transform.
	SetWindow(pt image.Point) bool
	// CalcOrd returns the ordered value of feature i at the current window.
	CalcOrd(i int) float64
	// CalcCat returns the categorical value of feature i at the current window.
	CalcCat(i int) int
	// Clone returns an evaluator sharing the feature table with the receiver.
	Clone() Evaluator
	// FeatureType returns the kind of features evaluated.
	FeatureType() Type
}

// IntegralSource is implemented by the evaluators backed by a running-sum transform.
// It gives the accelerated backend access to the transform of the current scale.
type IntegralSource interface {
	Integral() *Integral
}

// WeightedRect is one rectangle of a Haar feature.
type WeightedRect struct {
	image.Rectangle
	Weight float32
}

// HaarFeature holds up to three weighted rectangles. Unused slots have zero weight.
type HaarFeature struct {
	Tilted bool
	Rects  [3]WeightedRect
}

// LBPCategories is the number of codes an LBP feature takes.
const LBPCategories = 256

// LBPFeature is the top-left block of a 3x3 grid of equally sized blocks.
type LBPFeature struct {
	Rect image.Rectangle
}

// HOGFeature is the top-left cell of a 2x2 cell block. Component selects the
// cell (Component / Bins) and the orientation bin (Component % Bins).
type HOGFeature struct {
	Rect      image.Rectangle
	Component int
}

// Cells returns the four cells of the block, row major.
func (f HOGFeature) Cells() [4]image.Rectangle {
	r := f.Rect
	w, h := r.Dx(), r.Dy()
	return [4]image.Rectangle{
		r,
		r.Add(image.Pt(w, 0)),
		r.Add(image.Pt(0, h)),
		r.Add(image.Pt(w, h)),
	}
}

// SumOffsets returns the four corner offsets (top-left, top-right, bottom-left,
// bottom-right) of r in a buffer of the given row stride.
func SumOffsets(r image.Rectangle, stride int) [4]int {
	return [4]int{
		r.Min.X + stride*r.Min.Y,
		r.Max.X + stride*r.Min.Y,
		r.Min.X + stride*r.Max.Y,
		r.Max.X + stride*r.Max.Y,
	}
}

// TiltedOffsets returns the corner offsets of the 45 degree rotated rectangle
// described by r (its Min is the top corner) in a tilted running sum.
func TiltedOffsets(r image.Rectangle, stride int) [4]int {
	x, y, w, h := r.Min.X, r.Min.Y, r.Dx(), r.Dy()
	return [4]int{
		x + stride*y,
		x - h + stride*(y+h),
		x + w + stride*(y+w),
		x + w - h + stride*(y+w+h),
	}
}

// fitBuffer grows bufSize so a transform of a w x h image fits into it.
func fitBuffer(bufSize image.Point, w, h int) image.Point {
	if bufSize.X < w+1 {
		bufSize.X = w + 1
	}
	if bufSize.Y < h+1 {
		bufSize.Y = h + 1
	}
	return bufSize
}

// windowFits reports whether a window of size win placed at pt lies inside a
// transform of sumSize, leaving margin unused columns and rows at the far end.
func windowFits(pt, win, sumSize image.Point, margin int) bool {
	return pt.X >= 0 && pt.Y >= 0 &&
		pt.X+win.X < sumSize.X-margin &&
		pt.Y+win.Y < sumSize.Y-margin
}
