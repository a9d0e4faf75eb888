package objdetect

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/esimov/objdetect/utils"
)

const (
	meanshiftMaxIter = 100
	meanshiftModeEps = 1e-5
	meanshiftDedupe  = 1
)

// meanshiftKernel is the density bandwidth along x, y and log scale.
// The spatial components are widened by the scale of the point they apply to.
var meanshiftKernel = r3.Vec{X: 8, Y: 16, Z: math.Log(1.3)}

type meanshift struct {
	points  []r3.Vec
	weights []float64
}

// bandwidth returns the kernel stretched to the scale of p.
func bandwidth(p r3.Vec) r3.Vec {
	s := math.Exp(p.Z)
	return r3.Vec{X: meanshiftKernel.X * s, Y: meanshiftKernel.Y * s, Z: meanshiftKernel.Z}
}

func div(p, q r3.Vec) r3.Vec {
	return r3.Vec{X: p.X / q.X, Y: p.Y / q.Y, Z: p.Z / q.Z}
}

// kernelWeight is the contribution of point i to the density at p, along with
// the bandwidth of point i.
func (ms *meanshift) kernelWeight(i int, p r3.Vec) (float64, r3.Vec) {
	s := bandwidth(ms.points[i])
	d := r3.Sub(div(ms.points[i], s), div(p, s))
	return ms.weights[i] * math.Exp(-r3.Dot(d, d)/2) / math.Sqrt(r3.Dot(s, r3.Vec{X: 1, Y: 1, Z: 1})), s
}

// next computes one mean shift step from p.
func (ms *meanshift) next(p r3.Vec) r3.Vec {
	var res, rat r3.Vec
	for i := range ms.points {
		w, s := ms.kernelWeight(i, p)
		res = r3.Add(res, r3.Scale(w, div(ms.points[i], s)))
		rat = r3.Add(rat, div(r3.Vec{X: w, Y: w, Z: w}, s))
	}
	return div(res, rat)
}

func (ms *meanshift) density(p r3.Vec) float64 {
	var sum float64
	for i := range ms.points {
		w, _ := ms.kernelWeight(i, p)
		sum += w
	}
	return sum
}

// distance is the squared distance from p1 to p2 in units of the bandwidth at p2.
func distance(p1, p2 r3.Vec) float64 {
	d := div(r3.Sub(p2, p1), bandwidth(p2))
	return r3.Dot(d, d)
}

func (ms *meanshift) climb(p r3.Vec) r3.Vec {
	for i := 0; i < meanshiftMaxIter; i++ {
		prev := p
		p = ms.next(prev)
		if distance(p, prev) <= meanshiftModeEps {
			break
		}
	}
	return p
}

// modes climbs from every point and returns the distinct points of convergence
// together with the density found at each of them.
func (ms *meanshift) modes() ([]r3.Vec, []float64) {
	var modes []r3.Vec
	for _, p := range ms.points {
		m := ms.climb(ms.next(p))
		found := false
		for _, q := range modes {
			if distance(m, q) < meanshiftDedupe {
				found = true
				break
			}
		}
		if !found {
			modes = append(modes, m)
		}
	}
	weights := make([]float64, len(modes))
	for i, m := range modes {
		weights[i] = ms.density(m)
	}
	return modes, weights
}

// GroupRectanglesMeanshift merges detections by mean shift mode seeking over their
// centers and scales. Every rectangle comes with a confidence weight and the scale
// it was found at; winDetSize is the detector window at scale 1. Modes whose
// density does not exceed detectThreshold are dropped.
func GroupRectanglesMeanshift(rects []image.Rectangle, weights, scales []float64,
	detectThreshold float64, winDetSize image.Point) ([]image.Rectangle, []float64) {
	n := len(rects)
	if n == 0 || len(weights) != n || len(scales) != n {
		return nil, nil
	}

	ms := &meanshift{
		points:  make([]r3.Vec, n),
		weights: append([]float64(nil), weights...),
	}
	for i, r := range rects {
		ms.points[i] = r3.Vec{
			X: float64(r.Min.X+r.Max.X) * 0.5,
			Y: float64(r.Min.Y+r.Max.Y) * 0.5,
			Z: math.Log(scales[i]),
		}
	}

	modes, density := ms.modes()
	var (
		out []image.Rectangle
		ow  []float64
	)
	for i, m := range modes {
		if density[i] <= detectThreshold {
			continue
		}
		scale := math.Exp(m.Z)
		// the climb reproduces a lone point only up to rounding, so snap to the pixel grid
		w, h := utils.Round(float64(winDetSize.X)*scale), utils.Round(float64(winDetSize.Y)*scale)
		x, y := utils.Round(m.X-float64(w/2)), utils.Round(m.Y-float64(h/2))
		out = append(out, image.Rect(x, y, x+w, y+h))
		ow = append(ow, density[i])
	}
	return out, ow
}
