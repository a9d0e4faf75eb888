package feature

import (
	"image"
	"math"
)

// Bins is the number of orientation bins of the gradient histogram.
const Bins = 9

// Histogram is an integral histogram of oriented gradients. Bins[b] is the running
// sum of the gradient magnitude of the pixels whose orientation falls in bin b and
// Norm is the running sum of the magnitude over all bins. The layout is the same as
// the one of Integral.
type Histogram struct {
	Size   image.Point
	Stride int
	Bins   [Bins][]float32
	Norm   []float32

	rows int
}

// NewHistogram allocates a histogram laid out as bufSize.
func NewHistogram(bufSize image.Point) *Histogram {
	n := bufSize.X * bufSize.Y
	h := &Histogram{
		Stride: bufSize.X,
		Norm:   make([]float32, n),
		rows:   bufSize.Y,
	}
	for i := range h.Bins {
		h.Bins[i] = make([]float32, n)
	}
	return h
}

// Fits reports whether the histogram buffers are laid out as bufSize.
func (h *Histogram) Fits(bufSize image.Point) bool {
	return h != nil && h.Stride == bufSize.X && h.rows >= bufSize.Y
}

// SumSize returns the size of the valid region of the histogram.
func (h *Histogram) SumSize() image.Point {
	return h.Size.Add(image.Pt(1, 1))
}

// Compute fills the histogram from the central-difference gradient of img.
// Borders are replicated. Orientations are unsigned, so opposite gradient
// directions fall in the same bin.
func (h *Histogram) Compute(img *image.Gray) {
	b := img.Bounds()
	w, ht := b.Dx(), b.Dy()
	h.Size = image.Pt(w, ht)
	stride := h.Stride

	at := func(x, y int) float32 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= ht {
			y = ht - 1
		}
		return float32(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}

	for x := 0; x <= w; x++ {
		h.Norm[x] = 0
		for i := range h.Bins {
			h.Bins[i][x] = 0
		}
	}

	angleScale := float64(Bins) / math.Pi
	for y := 1; y <= ht; y++ {
		base, prev := y*stride, (y-1)*stride
		var (
			rowNorm float32
			rowBins [Bins]float32
		)
		h.Norm[base] = 0
		for i := range h.Bins {
			h.Bins[i][base] = 0
		}
		for x := 1; x <= w; x++ {
			px, py := x-1, y-1
			dx := at(px+1, py) - at(px-1, py)
			dy := at(px, py+1) - at(px, py-1)
			mag := float32(math.Sqrt(float64(dx*dx + dy*dy)))

			angle := math.Atan2(float64(dy), float64(dx))
			if angle < 0 {
				angle += 2 * math.Pi
			}
			bin := int(math.Floor(angle*angleScale - 0.5))
			if bin < 0 {
				bin += Bins
			} else if bin >= Bins {
				bin -= Bins
			}

			rowNorm += mag
			rowBins[bin] += mag
			h.Norm[base+x] = h.Norm[prev+x] + rowNorm
			for i := range h.Bins {
				h.Bins[i][base+x] = h.Bins[i][prev+x] + rowBins[i]
			}
		}
	}
}

func sumAtF(s []float32, base int, ofs [4]int) float32 {
	return s[base+ofs[0]] - s[base+ofs[1]] - s[base+ofs[2]] + s[base+ofs[3]]
}
