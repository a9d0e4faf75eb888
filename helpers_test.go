package objdetect

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esimov/objdetect/model"
)

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func noiseGray(w, h int, seed int64) *image.Gray {
	rnd := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rnd.Intn(256))
	}
	return img
}

// blockGray paints a bright square on a dark background.
func blockGray(w, h int, block image.Rectangle) *image.Gray {
	img := uniformGray(w, h, 20)
	for y := block.Min.Y; y < block.Max.Y; y++ {
		for x := block.Min.X; x < block.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 230})
		}
	}
	return img
}

// pixelStumpDescription describes a single stage, single stump Haar cascade whose
// only feature is the pixel at (1, 1) of a 4x4 window. Windows whose pixel is at
// least thr are accepted.
func pixelStumpDescription(thr float64) *model.Description {
	return &model.Description{
		StageType:   "BOOST",
		FeatureType: "HAAR",
		Width:       4,
		Height:      4,
		Stages: []model.StageDesc{{
			Threshold: 0,
			Weak: []model.WeakDesc{{
				InternalNodes: []float64{0, -1, 0, thr},
				LeafValues:    []float64{-1, 1},
			}},
		}},
		Features: []model.FeatureDesc{{Rects: []model.RectDesc{{X: 1, Y: 1, Width: 1, Height: 1, Weight: 1}}}},
	}
}

// centerSurroundDescription describes a stump cascade responding to a bright
// square in the middle of a 12x12 window.
func centerSurroundDescription() *model.Description {
	return &model.Description{
		StageType:   "BOOST",
		FeatureType: "HAAR",
		Width:       12,
		Height:      12,
		Stages: []model.StageDesc{
			{Threshold: 0.5, Weak: []model.WeakDesc{
				{InternalNodes: []float64{0, -1, 0, 0.5}, LeafValues: []float64{-1, 1}},
			}},
			{Threshold: 0.5, Weak: []model.WeakDesc{
				{InternalNodes: []float64{0, -1, 1, 0.1}, LeafValues: []float64{1, -1}},
			}},
		},
		Features: []model.FeatureDesc{
			{Rects: []model.RectDesc{
				{X: 0, Y: 0, Width: 12, Height: 12, Weight: -1},
				{X: 3, Y: 3, Width: 6, Height: 6, Weight: 4},
			}},
			{Rects: []model.RectDesc{
				{X: 3, Y: 3, Width: 6, Height: 3, Weight: 1},
				{X: 3, Y: 6, Width: 6, Height: 3, Weight: -1},
			}},
		},
	}
}

// randomHaarDescription builds a multi stage Haar cascade with random features.
// With depth 2 every weak classifier is a three leaf tree.
func randomHaarDescription(seed int64, stages, trees, depth int) *model.Description {
	rnd := rand.New(rand.NewSource(seed))
	const win = 10
	d := &model.Description{StageType: "BOOST", FeatureType: "HAAR", Width: win, Height: win}

	const nfeatures = 12
	for i := 0; i < nfeatures; i++ {
		x, y := rnd.Intn(win/2), rnd.Intn(win/2)
		w, h := 1+rnd.Intn(win/2-1), 1+rnd.Intn(win/2-1)
		d.Features = append(d.Features, model.FeatureDesc{Rects: []model.RectDesc{
			{X: x, Y: y, Width: w, Height: h, Weight: -1},
			{X: x + w/2, Y: y + h/2, Width: w - w/2, Height: h - h/2, Weight: 2},
		}})
	}
	thr := func() float64 { return rnd.Float64() - 0.5 }
	for s := 0; s < stages; s++ {
		sd := model.StageDesc{Threshold: thr() * float64(trees) / 2}
		for t := 0; t < trees; t++ {
			if depth == 1 {
				sd.Weak = append(sd.Weak, model.WeakDesc{
					InternalNodes: []float64{0, -1, float64(rnd.Intn(nfeatures)), thr() / 4},
					LeafValues:    []float64{thr(), thr()},
				})
				continue
			}
			sd.Weak = append(sd.Weak, model.WeakDesc{
				InternalNodes: []float64{
					1, -2, float64(rnd.Intn(nfeatures)), thr() / 4,
					0, -1, float64(rnd.Intn(nfeatures)), thr() / 4,
				},
				LeafValues: []float64{thr(), thr(), thr()},
			})
		}
		d.Stages = append(d.Stages, sd)
	}
	return d
}

func mustBuild(t *testing.T, d *model.Description) *model.Model {
	t.Helper()
	m, err := model.Build(d)
	require.NoError(t, err)
	return m
}
