package objdetect

import (
	"image"

	"github.com/esimov/objdetect/utils"
)

// GroupEps is the similarity tolerance used when grouping raw detections.
const GroupEps = 0.2

// minNormal is the smallest positive normal float64, the starting best weight of a class.
const minNormal = 0x1p-1022

// similarRects reports whether every edge of r1 lies within delta of the
// corresponding edge of r2, delta being eps times the mean of the smaller width
// and the smaller height.
func similarRects(r1, r2 image.Rectangle, eps float64) bool {
	delta := eps * float64(utils.Min(r1.Dx(), r2.Dx())+utils.Min(r1.Dy(), r2.Dy())) * 0.5
	return float64(utils.Abs(r1.Min.X-r2.Min.X)) <= delta &&
		float64(utils.Abs(r1.Min.Y-r2.Min.Y)) <= delta &&
		float64(utils.Abs(r1.Max.X-r2.Max.X)) <= delta &&
		float64(utils.Abs(r1.Max.Y-r2.Max.Y)) <= delta
}

// partition splits rects into the equivalence classes of the transitive closure of
// similarRects. Classes are numbered in the order of their first member.
func partition(rects []image.Rectangle, eps float64) ([]int, int) {
	parent := make([]int, len(rects))
	rank := make([]int, len(rects))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range rects {
		for j := 0; j < i; j++ {
			if !similarRects(rects[i], rects[j], eps) {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			switch {
			case rank[ri] < rank[rj]:
				parent[ri] = rj
			case rank[ri] > rank[rj]:
				parent[rj] = ri
			default:
				parent[rj] = ri
				rank[ri]++
			}
		}
	}

	labels := make([]int, len(rects))
	class := make(map[int]int)
	for i := range rects {
		root := find(i)
		c, ok := class[root]
		if !ok {
			c = len(class)
			class[root] = c
		}
		labels[i] = c
	}
	return labels, len(class)
}

// GroupRectangles clusters similar rectangles and replaces every cluster having
// more than groupThreshold members by the average of its members. Clusters lying
// inside a bigger and stronger cluster are dropped. A non-positive groupThreshold
// returns a copy of rects.
func GroupRectangles(rects []image.Rectangle, groupThreshold int, eps float64) []image.Rectangle {
	out, _, _ := groupRectangles(rects, groupThreshold, eps, nil, nil)
	return out
}

// GroupRectanglesWeights works like GroupRectangles and also returns the number
// of raw rectangles merged into each output rectangle.
func GroupRectanglesWeights(rects []image.Rectangle, groupThreshold int, eps float64) ([]image.Rectangle, []int) {
	out, weights, _ := groupRectangles(rects, groupThreshold, eps, nil, nil)
	return out, weights
}

// GroupRectanglesLevels works like GroupRectangles on diagnostic output. For every
// output rectangle it returns the highest reject level among the merged rectangles
// and the best weight found at that level.
func GroupRectanglesLevels(rects []image.Rectangle, levels []int, levelWeights []float64,
	groupThreshold int, eps float64) ([]image.Rectangle, []int, []float64) {
	return groupRectangles(rects, groupThreshold, eps, levels, levelWeights)
}

func groupRectangles(rects []image.Rectangle, groupThreshold int, eps float64,
	levels []int, levelWeights []float64) ([]image.Rectangle, []int, []float64) {
	withLevels := len(levels) > 0 && len(levels) == len(levelWeights) && len(levels) == len(rects)

	if groupThreshold <= 0 || len(rects) == 0 {
		// without grouping every rectangle counts once, levels included
		out := append([]image.Rectangle(nil), rects...)
		weights := make([]int, len(rects))
		for i := range weights {
			weights[i] = 1
		}
		if withLevels {
			return out, weights, append([]float64(nil), levelWeights...)
		}
		return out, weights, nil
	}

	labels, nclasses := partition(rects, eps)

	sums := make([][4]int, nclasses)
	counts := make([]int, nclasses)
	bestLevel := make([]int, nclasses)
	bestWeight := make([]float64, nclasses)
	for i := range bestWeight {
		bestWeight[i] = minNormal
	}
	for i, r := range rects {
		c := labels[i]
		sums[c][0] += r.Min.X
		sums[c][1] += r.Min.Y
		sums[c][2] += r.Dx()
		sums[c][3] += r.Dy()
		counts[c]++
	}
	if withLevels {
		for i, c := range labels {
			switch {
			case levels[i] > bestLevel[c]:
				bestLevel[c] = levels[i]
				bestWeight[c] = levelWeights[i]
			case levels[i] == bestLevel[c] && levelWeights[i] > bestWeight[c]:
				bestWeight[c] = levelWeights[i]
			}
		}
	}

	avg := make([]image.Rectangle, nclasses)
	for c := range avg {
		s := 1 / float32(counts[c])
		x := utils.Round(float64(float32(sums[c][0]) * s))
		y := utils.Round(float64(float32(sums[c][1]) * s))
		w := utils.Round(float64(float32(sums[c][2]) * s))
		h := utils.Round(float64(float32(sums[c][3]) * s))
		avg[c] = image.Rect(x, y, x+w, y+h)
	}

	var (
		out     []image.Rectangle
		weights []int
		lw      []float64
	)
	for i, r1 := range avg {
		n1 := counts[i]
		if n1 <= groupThreshold {
			continue
		}
		nested := false
		for j, r2 := range avg {
			n2 := counts[j]
			if j == i || n2 <= groupThreshold {
				continue
			}
			dx := utils.Round(float64(r2.Dx()) * eps)
			dy := utils.Round(float64(r2.Dy()) * eps)
			if r1.Min.X >= r2.Min.X-dx && r1.Min.Y >= r2.Min.Y-dy &&
				r1.Max.X <= r2.Max.X+dx && r1.Max.Y <= r2.Max.Y+dy &&
				(n2 > utils.Max(3, n1) || n1 < 3) {
				nested = true
				break
			}
		}
		if nested {
			continue
		}
		out = append(out, r1)
		if withLevels {
			weights = append(weights, bestLevel[i])
			lw = append(lw, bestWeight[i])
		} else {
			weights = append(weights, n1)
		}
	}
	return out, weights, lw
}
