package accel

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/internal/parallel"
	"github.com/esimov/objdetect/model"
)

// cascadeBuffers is the flattened cascade as a device sees it: plain arrays of
// stages, stumps, subsets and features. Feature offsets depend on the row stride
// of a scale and live in per-stride tables built on first use.
type cascadeBuffers struct {
	op         Op
	window     image.Point
	stages     []model.Stage
	stumps     []model.Stump
	subsets    []int32
	subsetSize int
	haar       []feature.HaarFeature
	lbp        []feature.LBPFeature

	mu      sync.Mutex
	offsets map[int]*strideOffsets
}

// strideOffsets holds the feature offsets resolved for one row stride.
// It is never modified once built, so concurrent scales can share it.
type strideOffsets struct {
	haar [][3][4]int
	lbp  [][16]int
	norm [4]int
	area float64
}

func flatten(m *model.Model) (*cascadeBuffers, error) {
	op, ok := OpFor(m)
	if !ok {
		return nil, fmt.Errorf("%w: %s cascade is not supported", ErrFallbackToCPU, m.FeatureType)
	}
	return &cascadeBuffers{
		op:         op,
		window:     m.Window,
		stages:     append([]model.Stage(nil), m.Stages...),
		stumps:     append([]model.Stump(nil), m.Stumps...),
		subsets:    append([]int32(nil), m.Subsets...),
		subsetSize: m.SubsetSize,
		haar:       m.Haar,
		lbp:        m.LBP,
		offsets:    make(map[int]*strideOffsets),
	}, nil
}

// bind returns the feature offsets for stride.
func (c *cascadeBuffers) bind(stride int) *strideOffsets {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ofs, ok := c.offsets[stride]; ok {
		return ofs
	}

	ofs := &strideOffsets{}
	switch c.op {
	case OpHaarStump:
		ofs.haar = make([][3][4]int, len(c.haar))
		for i, f := range c.haar {
			for j, r := range f.Rects {
				if r.Weight != 0 {
					ofs.haar[i][j] = feature.SumOffsets(r.Rectangle, stride)
				}
			}
		}
		norm := image.Rect(1, 1, c.window.X-1, c.window.Y-1)
		ofs.norm = feature.SumOffsets(norm, stride)
		ofs.area = float64(norm.Dx() * norm.Dy())
	case OpLBPStump:
		ofs.lbp = make([][16]int, len(c.lbp))
		for i, f := range c.lbp {
			ofs.lbp[i] = feature.LBPOffsets(f.Rect, stride)
		}
	}
	c.offsets[stride] = ofs
	return ofs
}

// run executes the kernel over the job grid, one work item per grid point.
// Rows of the grid are dispatched to workers goroutines.
func (c *cascadeBuffers) run(job *ScaleJob, out *Results, workers int) error {
	in := job.Integral
	if in == nil || in.Stride == 0 {
		return fmt.Errorf("accel: scale has no integral transform")
	}
	if c.op == OpHaarStump && in.SqSum == nil {
		return fmt.Errorf("accel: scale has no squared integral transform")
	}
	ofs := c.bind(in.Stride)

	grid := job.Grid()
	sumSize := in.SumSize()
	parallel.For(grid.Y, workers, func(iy int) {
		y := iy * job.Step
		for ix := 0; ix < grid.X; ix++ {
			x := ix * job.Step
			if x+c.window.X >= sumSize.X || y+c.window.Y >= sumSize.Y {
				continue
			}
			base := y*in.Stride + x
			var res int
			// one work item per point, there is no skip after a first stage rejection
			if c.op == OpHaarStump {
				res = c.haarStump(in, ofs, base)
			} else {
				res = c.lbpStump(in, ofs, base)
			}
			if res == 1 {
				out.Add(image.Pt(x, y))
			}
		}
	})
	return nil
}

// haarStump and lbpStump return 1 for an accepted window, -(k+1) if stage k rejects it.
func (c *cascadeBuffers) haarStump(in *feature.Integral, ofs *strideOffsets, base int) int {
	s := float64(in.BlockSum(base, ofs.norm))
	nf := ofs.area*in.BlockSqSum(base, ofs.norm) - s*s
	if nf > 0 {
		nf = math.Sqrt(nf)
	} else {
		nf = 1
	}
	norm := 1 / nf

	for k, st := range c.stages {
		var sum float64
		for _, sp := range c.stumps[st.First : st.First+st.NTrees] {
			f := &c.haar[sp.Feature]
			rofs := &ofs.haar[sp.Feature]
			var ret float32
			for j := range f.Rects {
				if f.Rects[j].Weight != 0 {
					ret += float32(f.Rects[j].Weight * float32(in.BlockSum(base, rofs[j])))
				}
			}
			val := float64(float32(float64(ret) * norm))
			if val < float64(sp.Threshold) {
				sum += float64(sp.Left)
			} else {
				sum += float64(sp.Right)
			}
		}
		if sum < float64(st.Threshold) {
			return -(k + 1)
		}
	}
	return 1
}

func (c *cascadeBuffers) lbpStump(in *feature.Integral, ofs *strideOffsets, base int) int {
	for k, st := range c.stages {
		var sum float64
		for _, sp := range c.stumps[st.First : st.First+st.NTrees] {
			code := feature.LBPCode(in.Sum, base, &ofs.lbp[sp.Feature])
			subset := c.subsets[sp.SubsetOffset : sp.SubsetOffset+c.subsetSize]
			if subset[code>>5]&(1<<uint(code&31)) != 0 {
				sum += float64(sp.Left)
			} else {
				sum += float64(sp.Right)
			}
		}
		if sum < float64(st.Threshold) {
			return -(k + 1)
		}
	}
	return 1
}
