// Package model holds the in-memory representation of a boosted cascade.
//
// A Model is built once from a Description, either assembled in code or parsed from
// one of the persisted formats (see ParseXML and ParseYAML), and is read-only
// afterwards. It can be shared by any number of concurrent detections.
package model

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/esimov/objdetect/feature"
)

// StageBoost is the only supported stage type.
const StageBoost = "BOOST"

// thresholdEps absorbs the rounding of the stage thresholds stored in text form.
const thresholdEps float32 = 1e-5

var (
	ErrMissingSection     = errors.New("model: missing required section")
	ErrUnsupportedStage   = errors.New("model: unsupported stage type")
	ErrUnsupportedFeature = errors.New("model: unsupported feature type")
	ErrInvalidWindow      = errors.New("model: window size must be positive")
	ErrMalformed          = errors.New("model: malformed cascade")
	// ErrLegacyFormat is returned by the parsers for cascades stored in the old
	// single-structure format, which this package does not evaluate.
	ErrLegacyFormat = errors.New("model: legacy cascade format")
)

// Child is one branch of a decision node: either another node of the same tree
// or a leaf. Index is absolute, into Model.Nodes or Model.Leaves respectively.
type Child struct {
	Leaf  bool
	Index int
}

// Node is a branch of a decision tree. Ordered nodes compare the feature value
// against Threshold; categorical nodes test the category bit in the subset
// starting at SubsetOffset. Values below the threshold, or categories present in
// the subset, go left.
type Node struct {
	Left, Right  Child
	Feature      int
	Threshold    float32
	SubsetOffset int
}

// Tree is a contiguous run of NodeCount nodes starting at Root.
type Tree struct {
	Root      int
	NodeCount int
}

// Stage is a boosted ensemble of NTrees trees starting at First.
// A window passes the stage if the sum of its tree outputs reaches Threshold.
type Stage struct {
	First     int
	NTrees    int
	Threshold float32
}

// Stump is a single split tree flattened together with its two leaf values.
type Stump struct {
	Feature      int
	Threshold    float32
	Left, Right  float32
	SubsetOffset int
}

// Model is an immutable boosted cascade.
type Model struct {
	StageType     string
	FeatureType   feature.Type
	Window        image.Point
	NumCategories int
	// SubsetSize is the number of 32 bit words of a categorical subset.
	SubsetSize int

	Stages  []Stage
	Trees   []Tree
	Nodes   []Node
	Leaves  []float32
	Subsets []int32
	// Stumps is populated only when every tree has a single node, in stage then tree order.
	Stumps []Stump

	Haar []feature.HaarFeature
	LBP  []feature.LBPFeature
	HOG  []feature.HOGFeature

	maxNodesPerTree int
}

// IsStumpBased reports whether every tree of the cascade has a single node.
func (m *Model) IsStumpBased() bool {
	return m.maxNodesPerTree == 1
}

// IsCategorical reports whether the nodes split on categories instead of thresholds.
func (m *Model) IsCategorical() bool {
	return m.NumCategories > 0
}

// NumFeatures returns the size of the feature table.
func (m *Model) NumFeatures() int {
	switch m.FeatureType {
	case feature.Haar:
		return len(m.Haar)
	case feature.LBP:
		return len(m.LBP)
	case feature.HOG:
		return len(m.HOG)
	}
	return 0
}

// NewEvaluator returns a fresh evaluator over the model's feature table.
func (m *Model) NewEvaluator() feature.Evaluator {
	switch m.FeatureType {
	case feature.LBP:
		return feature.NewLBP(m.LBP)
	case feature.HOG:
		return feature.NewHOG(m.HOG)
	}
	return feature.NewHaar(m.Haar)
}

// Subset returns the categorical subset starting at offset.
func (m *Model) Subset(offset int) []int32 {
	return m.Subsets[offset : offset+m.SubsetSize]
}

// Build validates the description and builds the model. On error no model is returned.
func Build(d *Description) (*Model, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: cascade", ErrMissingSection)
	}
	if d.StageType == "" {
		return nil, fmt.Errorf("%w: stageType", ErrMissingSection)
	}
	if !strings.EqualFold(strings.TrimSpace(d.StageType), StageBoost) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStage, d.StageType)
	}
	if d.FeatureType == "" {
		return nil, fmt.Errorf("%w: featureType", ErrMissingSection)
	}
	ft, err := feature.ParseType(d.FeatureType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFeature, err)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidWindow, d.Width, d.Height)
	}
	// subsets must cover every code the evaluator can return
	switch {
	case ft == feature.LBP && d.MaxCatCount < feature.LBPCategories:
		return nil, fmt.Errorf("%w: LBP cascade has %d categories, want %d",
			ErrMalformed, d.MaxCatCount, feature.LBPCategories)
	case ft != feature.LBP && d.MaxCatCount != 0:
		return nil, fmt.Errorf("%w: %s features are not categorical", ErrMalformed, ft)
	}
	if len(d.Stages) == 0 {
		return nil, fmt.Errorf("%w: stages", ErrMissingSection)
	}
	if len(d.Features) == 0 {
		return nil, fmt.Errorf("%w: features", ErrMissingSection)
	}

	m := &Model{
		StageType:   StageBoost,
		FeatureType: ft,
		Window:      image.Pt(d.Width, d.Height),
	}
	if d.MaxCatCount > 0 {
		m.NumCategories = d.MaxCatCount
		m.SubsetSize = (d.MaxCatCount + 31) / 32
	}
	if err := m.buildFeatures(d.Features); err != nil {
		return nil, err
	}
	if err := m.buildStages(d.Stages); err != nil {
		return nil, err
	}
	if m.IsStumpBased() {
		m.flattenStumps()
	}
	return m, nil
}

func (m *Model) buildStages(stages []StageDesc) error {
	nodeStep := 4
	if m.IsCategorical() {
		nodeStep = 3 + m.SubsetSize
	}
	nfeatures := m.NumFeatures()

	for si, sd := range stages {
		if len(sd.Weak) == 0 {
			return fmt.Errorf("%w: stage %d has no weak classifiers", ErrMalformed, si)
		}
		m.Stages = append(m.Stages, Stage{
			First:     len(m.Trees),
			NTrees:    len(sd.Weak),
			Threshold: float32(sd.Threshold) - thresholdEps,
		})

		for wi, wd := range sd.Weak {
			n := len(wd.InternalNodes)
			if n == 0 || n%nodeStep != 0 {
				return fmt.Errorf("%w: stage %d tree %d: %d node values is not a multiple of %d",
					ErrMalformed, si, wi, n, nodeStep)
			}
			nodeCount := n / nodeStep
			if len(wd.LeafValues) != nodeCount+1 {
				return fmt.Errorf("%w: stage %d tree %d: want %d leaf values, got %d",
					ErrMalformed, si, wi, nodeCount+1, len(wd.LeafValues))
			}

			root, leafOfs := len(m.Nodes), len(m.Leaves)
			for ni := 0; ni < nodeCount; ni++ {
				row := wd.InternalNodes[ni*nodeStep : (ni+1)*nodeStep]
				left, err := resolveChild(int(row[0]), ni, nodeCount, root, leafOfs)
				if err != nil {
					return fmt.Errorf("stage %d tree %d node %d: %w", si, wi, ni, err)
				}
				right, err := resolveChild(int(row[1]), ni, nodeCount, root, leafOfs)
				if err != nil {
					return fmt.Errorf("stage %d tree %d node %d: %w", si, wi, ni, err)
				}
				fi := int(row[2])
				if fi < 0 || fi >= nfeatures {
					return fmt.Errorf("%w: stage %d tree %d node %d: feature index %d out of range",
						ErrMalformed, si, wi, ni, fi)
				}

				node := Node{Left: left, Right: right, Feature: fi}
				if m.IsCategorical() {
					node.SubsetOffset = len(m.Subsets)
					for _, v := range row[3:] {
						m.Subsets = append(m.Subsets, int32(int64(v)))
					}
				} else {
					node.Threshold = float32(row[3])
				}
				m.Nodes = append(m.Nodes, node)
			}
			for _, v := range wd.LeafValues {
				m.Leaves = append(m.Leaves, float32(v))
			}
			m.Trees = append(m.Trees, Tree{Root: root, NodeCount: nodeCount})
			if nodeCount > m.maxNodesPerTree {
				m.maxNodesPerTree = nodeCount
			}
		}
	}
	return nil
}

// resolveChild decodes a stored child reference: positive values index a node of
// the tree relative to its root, zero or negative values index a leaf.
// Nodes may only reference nodes that come after them, so every walk terminates.
func resolveChild(idx, node, nodeCount, root, leafOfs int) (Child, error) {
	if idx <= 0 {
		if -idx > nodeCount {
			return Child{}, fmt.Errorf("%w: leaf index %d out of range", ErrMalformed, -idx)
		}
		return Child{Leaf: true, Index: leafOfs - idx}, nil
	}
	if idx <= node || idx >= nodeCount {
		return Child{}, fmt.Errorf("%w: node index %d out of range", ErrMalformed, idx)
	}
	return Child{Index: root + idx}, nil
}

func (m *Model) flattenStumps() {
	m.Stumps = make([]Stump, 0, len(m.Trees))
	for _, t := range m.Trees {
		n := m.Nodes[t.Root]
		m.Stumps = append(m.Stumps, Stump{
			Feature:      n.Feature,
			Threshold:    n.Threshold,
			Left:         m.Leaves[n.Left.Index],
			Right:        m.Leaves[n.Right.Index],
			SubsetOffset: n.SubsetOffset,
		})
	}
}

func (m *Model) buildFeatures(features []FeatureDesc) error {
	win := image.Rectangle{Max: m.Window}

	switch m.FeatureType {
	case feature.Haar:
		if m.Window.X < 3 || m.Window.Y < 3 {
			return fmt.Errorf("%w: %v is too small for Haar features", ErrInvalidWindow, m.Window)
		}
		m.Haar = make([]feature.HaarFeature, len(features))
		for i, fd := range features {
			if len(fd.Rects) == 0 || len(fd.Rects) > 3 {
				return fmt.Errorf("%w: feature %d has %d rectangles", ErrMalformed, i, len(fd.Rects))
			}
			f := feature.HaarFeature{Tilted: fd.Tilted}
			for j, rd := range fd.Rects {
				r := image.Rect(rd.X, rd.Y, rd.X+rd.Width, rd.Y+rd.Height)
				bounds := r
				if fd.Tilted {
					// the rotated rectangle spans from x-h to x+w and from y to y+w+h
					bounds = image.Rect(rd.X-rd.Height, rd.Y, rd.X+rd.Width, rd.Y+rd.Width+rd.Height)
				}
				if rd.Width <= 0 || rd.Height <= 0 || !bounds.In(win) {
					return fmt.Errorf("%w: feature %d rectangle %v outside of the %v window",
						ErrMalformed, i, r, m.Window)
				}
				f.Rects[j] = feature.WeightedRect{Rectangle: r, Weight: float32(rd.Weight)}
			}
			m.Haar[i] = f
		}

	case feature.LBP:
		m.LBP = make([]feature.LBPFeature, len(features))
		for i, fd := range features {
			if len(fd.Rect) < 4 {
				return fmt.Errorf("%w: feature %d needs 4 rectangle values", ErrMalformed, i)
			}
			x, y, w, h := fd.Rect[0], fd.Rect[1], fd.Rect[2], fd.Rect[3]
			if w <= 0 || h <= 0 || !image.Rect(x, y, x+3*w, y+3*h).In(win) {
				return fmt.Errorf("%w: feature %d block grid outside of the %v window", ErrMalformed, i, m.Window)
			}
			m.LBP[i] = feature.LBPFeature{Rect: image.Rect(x, y, x+w, y+h)}
		}

	case feature.HOG:
		m.HOG = make([]feature.HOGFeature, len(features))
		for i, fd := range features {
			if len(fd.Rect) < 5 {
				return fmt.Errorf("%w: feature %d needs 4 rectangle values and a component", ErrMalformed, i)
			}
			x, y, w, h, c := fd.Rect[0], fd.Rect[1], fd.Rect[2], fd.Rect[3], fd.Rect[4]
			if w <= 0 || h <= 0 || !image.Rect(x, y, x+2*w, y+2*h).In(win) {
				return fmt.Errorf("%w: feature %d cell block outside of the %v window", ErrMalformed, i, m.Window)
			}
			if c < 0 || c >= 4*feature.Bins {
				return fmt.Errorf("%w: feature %d component %d out of range", ErrMalformed, i, c)
			}
			m.HOG[i] = feature.HOGFeature{Rect: image.Rect(x, y, x+w, y+h), Component: c}
		}
	}
	return nil
}
