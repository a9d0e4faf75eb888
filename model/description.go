package model

// Description is the format neutral form of a persisted cascade, as produced by the
// parsers and consumed by Build.
type Description struct {
	StageType   string
	FeatureType string
	Width       int
	Height      int
	// MaxCatCount is the number of categories of categorical features, 0 for ordered ones.
	MaxCatCount int
	Stages      []StageDesc
	Features    []FeatureDesc
}

// StageDesc describes one boosted stage.
type StageDesc struct {
	Threshold float64
	Weak      []WeakDesc
}

// WeakDesc describes one decision tree. InternalNodes is the flat list of node
// rows "left right feature threshold" or, for categorical cascades,
// "left right feature subset-words...". Child references greater than zero point
// to nodes of the same tree, the others to the leaf -ref.
type WeakDesc struct {
	InternalNodes []float64
	LeafValues    []float64
}

// RectDesc is a weighted rectangle of a Haar feature.
type RectDesc struct {
	X, Y, Width, Height int
	Weight              float64
}

// FeatureDesc describes one feature. Haar features use Rects and Tilted, LBP
// features use Rect as "x y w h" and HOG features as "x y w h component".
type FeatureDesc struct {
	Rects  []RectDesc
	Tilted bool
	Rect   []int
}

// rectDescFromValues converts "x y w h weight" rows.
func rectDescFromValues(v []float64) (RectDesc, bool) {
	if len(v) != 5 {
		return RectDesc{}, false
	}
	return RectDesc{
		X:      int(v[0]),
		Y:      int(v[1]),
		Width:  int(v[2]),
		Height: int(v[3]),
		Weight: v[4],
	}, true
}

func intsFromValues(v []float64) []int {
	out := make([]int, len(v))
	for i, f := range v {
		out[i] = int(f)
	}
	return out
}
