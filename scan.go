package objdetect

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/esimov/objdetect/feature"
	"github.com/esimov/objdetect/internal/parallel"
	"github.com/esimov/objdetect/model"
	"github.com/esimov/objdetect/utils"
)

const (
	// pointsPerStrip is the number of grid points a strip is sized for.
	pointsPerStrip = 1000
	maxStrips      = 100
	// sumAlign is the row alignment of the integral transform buffers.
	sumAlign = 64
)

// scaleParams describes one level of the image pyramid.
type scaleParams struct {
	factor     float64
	window     image.Point // object size in the source image
	scaled     image.Point // size of the downscaled image
	processing image.Point // area holding the window origins
	step       int
}

// scales lists the pyramid levels scanned for an image of size img.
// A zero maxSize dimension means the image size in that dimension.
func scales(img, origWin, minSize, maxSize image.Point, ft feature.Type, scaleFactor float64) []scaleParams {
	if maxSize.X == 0 {
		maxSize.X = img.X
	}
	if maxSize.Y == 0 {
		maxSize.Y = img.Y
	}
	var out []scaleParams
	for f := 1.0; ; f *= scaleFactor {
		win := image.Pt(utils.Round(float64(origWin.X)*f), utils.Round(float64(origWin.Y)*f))
		scaled := image.Pt(utils.Round(float64(img.X)/f), utils.Round(float64(img.Y)/f))
		proc := scaled.Sub(origWin)

		if proc.X <= 0 || proc.Y <= 0 {
			break
		}
		if win.X > maxSize.X || win.Y > maxSize.Y {
			break
		}
		if win.X < minSize.X || win.Y < minSize.Y {
			continue
		}

		step := 2
		switch {
		case ft == feature.HOG:
			step = 4
		case f > 2:
			step = 1
		}
		out = append(out, scaleParams{factor: f, window: win, scaled: scaled, processing: proc, step: step})
	}
	return out
}

// stripCount splits the processing area of a scale into horizontal strips
// of roughly pointsPerStrip grid points each.
func stripCount(proc image.Point, step int) int {
	n := ((proc.X/step)*(proc.Y+step-1)/step + pointsPerStrip/2) / pointsPerStrip
	return utils.Clamp(n, 1, maxStrips)
}

// stripHeight is the height of each of n strips, a multiple of step.
func stripHeight(procHeight, n, step int) int {
	return (((procHeight+n-1)/n + step - 1) / step) * step
}

// bufferSize is the layout of the transform buffers for an image of size img.
func bufferSize(img image.Point) image.Point {
	return image.Pt((img.X+sumAlign)&^(sumAlign-1), img.Y+1)
}

// hit is an accepted window origin in the coordinates of the scaled image.
type hit struct {
	pt     image.Point
	level  int
	weight float64
}

// scanner classifies the windows of a single scale.
type scanner struct {
	m       *model.Model
	workers int
	// strips forces the strip count when positive.
	strips int
	// levels keeps the windows rejected after the first stage, with their level.
	levels bool
}

// scan runs the cascade over the grid of the scale sp. ev must hold the
// transform of the scaled image; every strip works on its own clone.
// Masked out grid points, those falling inside the mask on a zero pixel, are skipped.
func (s *scanner) scan(ev feature.Evaluator, sp scaleParams, mask *image.Gray) []hit {
	n := s.strips
	if n <= 0 {
		n = stripCount(sp.processing, sp.step)
	}
	height := stripHeight(sp.processing.Y, n, sp.step)
	nstages := len(s.m.Stages)

	strips := make([][]hit, n)
	parallel.For(n, s.workers, func(i int) {
		ev := ev.Clone()
		y1 := i * height
		y2 := min((i+1)*height, sp.processing.Y)

		var hits []hit
		for y := y1; y < y2; y += sp.step {
			for x := 0; x < sp.processing.X; x += sp.step {
				pt := image.Pt(x, y)
				if mask != nil && pt.In(mask.Rect) && mask.GrayAt(x, y).Y == 0 {
					continue
				}
				res, weight := RunAt(s.m, ev, pt)
				switch {
				case res == 1 && s.levels:
					hits = append(hits, hit{pt: pt, level: nstages, weight: weight})
				case res == 1:
					hits = append(hits, hit{pt: pt})
				case res <= -2 && s.levels:
					hits = append(hits, hit{pt: pt, level: -res - 1, weight: weight})
				}
				// a window rejected by the first stage skips the next grid point
				if res == -1 {
					x += sp.step
				}
			}
		}
		strips[i] = hits
	})

	var total int
	for _, h := range strips {
		total += len(h)
	}
	hits := make([]hit, 0, total)
	for _, h := range strips {
		hits = append(hits, h...)
	}
	return hits
}

// resizer downscales the grayscale image into a buffer reused across the scales
// of a detection. The returned image is valid until the next call.
type resizer struct {
	filter *imaging.ResampleFilter
	buf    *image.Gray
}

func (r *resizer) resize(src *image.Gray, size image.Point) *image.Gray {
	if size == src.Bounds().Size() {
		return src
	}
	if r.filter != nil {
		return ToGray(imaging.Resize(src, size.X, size.Y, *r.filter))
	}

	n := size.X * size.Y
	if r.buf == nil || cap(r.buf.Pix) < n {
		r.buf = image.NewGray(image.Rectangle{Max: size})
	} else {
		r.buf.Pix = r.buf.Pix[:n]
		r.buf.Stride = size.X
		r.buf.Rect = image.Rectangle{Max: size}
	}
	draw.BiLinear.Scale(r.buf, r.buf.Rect, src, src.Bounds(), draw.Src, nil)
	return r.buf
}

// toSource maps a window origin of scale sp back to the source image.
func (sp scaleParams) toSource(pt image.Point) image.Rectangle {
	p := image.Pt(utils.Round(float64(pt.X)*sp.factor), utils.Round(float64(pt.Y)*sp.factor))
	return image.Rectangle{Min: p, Max: p.Add(sp.window)}
}
