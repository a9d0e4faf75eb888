package objdetect

import (
	"image"

	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/model"
)

// RunAt classifies the window of the evaluator's current scale positioned at pt.
//
// The result is 1 when the window passes every stage and -(k+1) when it is
// rejected by stage k. A window that cannot be placed at pt gives -1 as well, the
// same as a rejection by the first stage. An evaluator whose feature type differs
// from the model's gives 0. The returned weight is the sum of the last evaluated
// stage.
func RunAt(m *model.Model, ev feature.Evaluator, pt image.Point) (int, float64) {
	if m.FeatureType != ev.FeatureType() {
		return 0, 0
	}
	if !ev.SetWindow(pt) {
		return -1, 0
	}
	switch {
	case m.IsStumpBased() && m.IsCategorical():
		return predictCategoricalStump(m, ev)
	case m.IsStumpBased():
		return predictOrderedStump(m, ev)
	case m.IsCategorical():
		return predictCategorical(m, ev)
	}
	return predictOrdered(m, ev)
}

func inSubset(subset []int32, c int) bool {
	return subset[c>>5]&(1<<uint(c&31)) != 0
}

func predictOrderedStump(m *model.Model, ev feature.Evaluator) (int, float64) {
	var sum float64
	for si, st := range m.Stages {
		sum = 0
		for _, s := range m.Stumps[st.First : st.First+st.NTrees] {
			if ev.CalcOrd(s.Feature) < float64(s.Threshold) {
				sum += float64(s.Left)
			} else {
				sum += float64(s.Right)
			}
		}
		if sum < float64(st.Threshold) {
			return -(si + 1), sum
		}
	}
	return 1, sum
}

func predictCategoricalStump(m *model.Model, ev feature.Evaluator) (int, float64) {
	var sum float64
	for si, st := range m.Stages {
		sum = 0
		for _, s := range m.Stumps[st.First : st.First+st.NTrees] {
			if inSubset(m.Subset(s.SubsetOffset), ev.CalcCat(s.Feature)) {
				sum += float64(s.Left)
			} else {
				sum += float64(s.Right)
			}
		}
		if sum < float64(st.Threshold) {
			return -(si + 1), sum
		}
	}
	return 1, sum
}

func predictOrdered(m *model.Model, ev feature.Evaluator) (int, float64) {
	var sum float64
	for si, st := range m.Stages {
		sum = 0
		for _, t := range m.Trees[st.First : st.First+st.NTrees] {
			next := model.Child{Index: t.Root}
			for !next.Leaf {
				n := &m.Nodes[next.Index]
				if ev.CalcOrd(n.Feature) < float64(n.Threshold) {
					next = n.Left
				} else {
					next = n.Right
				}
			}
			sum += float64(m.Leaves[next.Index])
		}
		if sum < float64(st.Threshold) {
			return -(si + 1), sum
		}
	}
	return 1, sum
}

func predictCategorical(m *model.Model, ev feature.Evaluator) (int, float64) {
	var sum float64
	for si, st := range m.Stages {
		sum = 0
		for _, t := range m.Trees[st.First : st.First+st.NTrees] {
			next := model.Child{Index: t.Root}
			for !next.Leaf {
				n := &m.Nodes[next.Index]
				if inSubset(m.Subset(n.SubsetOffset), ev.CalcCat(n.Feature)) {
					next = n.Left
				} else {
					next = n.Right
				}
			}
			sum += float64(m.Leaves[next.Index])
		}
		if sum < float64(st.Threshold) {
			return -(si + 1), sum
		}
	}
	return 1, sum
}
