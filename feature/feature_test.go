package feature

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomGray(w, h int, seed int64) *image.Gray {
	rnd := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rnd.Intn(256))
	}
	return img
}

func colorGray(v uint8) color.Gray { return color.Gray{Y: v} }

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestIntegral_RectSumMatchesBruteForce(t *testing.T) {
	img := randomGray(17, 13, 1)
	in := NewIntegral(image.Pt(64, 14), Squares)
	in.Compute(img)

	for _, r := range []image.Rectangle{
		image.Rect(0, 0, 17, 13),
		image.Rect(3, 2, 9, 11),
		image.Rect(16, 12, 17, 13),
		image.Rect(5, 5, 5, 5),
	} {
		var want int32
		var wantSq float64
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				v := img.GrayAt(x, y).Y
				want += int32(v)
				wantSq += float64(v) * float64(v)
			}
		}
		assert.Equal(t, want, in.RectSum(r), "rect %v", r)
		assert.Equal(t, wantSq, sqSumAt(in.SqSum, 0, SumOffsets(r, in.Stride)), "rect %v", r)
	}
}

func TestIntegral_TiltedMatchesDefinition(t *testing.T) {
	img := randomGray(11, 9, 2)
	in := NewIntegral(image.Pt(12, 10), Rotated)
	in.Compute(img)

	for Y := 0; Y <= 9; Y++ {
		for X := 0; X <= 11; X++ {
			var want int32
			for y := 0; y < Y; y++ {
				for x := 0; x < 11; x++ {
					d := x - X + 1
					if d < 0 {
						d = -d
					}
					if d <= Y-y-1 {
						want += int32(img.GrayAt(x, y).Y)
					}
				}
			}
			require.Equal(t, want, in.Tilted[Y*in.Stride+X], "tilted(%d,%d)", X, Y)
		}
	}
}

func TestIntegral_TiltedRectSum(t *testing.T) {
	img := uniformGray(20, 20, 1)
	in := NewIntegral(image.Pt(21, 21), Rotated)
	in.Compute(img)

	// A rotated square of side 2 covers 2*2*2 = 8 pixels on a unit image.
	assert.Equal(t, int32(8), in.TiltedSum(image.Rect(8, 4, 10, 6)))
}

func TestIntegral_Fits(t *testing.T) {
	in := NewIntegral(image.Pt(64, 30), Squares)
	assert.True(t, in.Fits(image.Pt(64, 20), Squares))
	assert.False(t, in.Fits(image.Pt(64, 31), Squares))
	assert.False(t, in.Fits(image.Pt(128, 20), Squares))
	assert.False(t, in.Fits(image.Pt(64, 20), Squares|Rotated))

	var none *Integral
	assert.False(t, none.Fits(image.Pt(1, 1), 0))
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]Type{"HAAR": Haar, "lbp": LBP, " HOG ": HOG} {
		got, err := ParseType(name)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want.String(), got.String())
	}
	_, err := ParseType("SURF")
	assert.Error(t, err)
}

func halfImage(w, h int, left, right uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := left
			if x >= w/2 {
				v = right
			}
			img.SetGray(x, y, colorGray(v))
		}
	}
	return img
}

func TestHaar_SetImageRejectsSmallImage(t *testing.T) {
	ev := NewHaar([]HaarFeature{edgeFeature()})
	assert.False(t, ev.SetImage(uniformGray(10, 24, 0), image.Pt(24, 24), image.Point{}))
	assert.True(t, ev.SetImage(uniformGray(24, 24, 0), image.Pt(24, 24), image.Point{}))
}

func edgeFeature() HaarFeature {
	return HaarFeature{Rects: [3]WeightedRect{
		{Rectangle: image.Rect(0, 0, 12, 24), Weight: -1},
		{Rectangle: image.Rect(12, 0, 24, 24), Weight: 1},
	}}
}

func TestHaar_WindowBounds(t *testing.T) {
	ev := NewHaar([]HaarFeature{edgeFeature()})
	require.True(t, ev.SetImage(uniformGray(30, 26, 10), image.Pt(24, 24), image.Pt(64, 27)))

	assert.True(t, ev.SetWindow(image.Pt(0, 0)))
	assert.True(t, ev.SetWindow(image.Pt(6, 2)))
	assert.False(t, ev.SetWindow(image.Pt(7, 0)))
	assert.False(t, ev.SetWindow(image.Pt(0, 3)))
	assert.False(t, ev.SetWindow(image.Pt(-1, 0)))
}

func TestHaar_FeatureValueIsVarianceNormalized(t *testing.T) {
	ev := NewHaar([]HaarFeature{edgeFeature()})

	// On a flat image the variance is zero and the factor falls back to 1.
	require.True(t, ev.SetImage(uniformGray(24, 24, 100), image.Pt(24, 24), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))
	assert.Equal(t, 0.0, ev.CalcOrd(0))

	img := halfImage(24, 24, 0, 2)
	require.True(t, ev.SetImage(img, image.Pt(24, 24), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))

	// Interior 22x22 rectangle: 11 columns of 0 and 11 columns of 2.
	area := 22.0 * 22.0
	sum := 11.0 * 22.0 * 2
	sq := 11.0 * 22.0 * 4
	nf := 1 / math.Sqrt(area*sq-sum*sum)
	raw := float64(12 * 24 * 2)
	assert.InDelta(t, raw*nf, ev.CalcOrd(0), 1e-6)
}

func TestHaar_OffsetsCachedWhileGeometryIsUnchanged(t *testing.T) {
	ev := NewHaar([]HaarFeature{edgeFeature()}).(*haarEvaluator)
	require.True(t, ev.SetImage(uniformGray(40, 40, 1), image.Pt(24, 24), image.Pt(64, 41)))
	first := &ev.offsets[0]

	require.True(t, ev.SetImage(uniformGray(30, 30, 1), image.Pt(24, 24), image.Pt(64, 41)))
	assert.Same(t, first, &ev.offsets[0])

	require.True(t, ev.SetImage(uniformGray(30, 30, 1), image.Pt(24, 24), image.Pt(128, 41)))
	assert.NotSame(t, first, &ev.offsets[0])
}

func TestHaar_CloneDoesNotShareWritableBuffers(t *testing.T) {
	parent := NewHaar([]HaarFeature{edgeFeature()})
	require.True(t, parent.SetImage(halfImage(24, 24, 0, 200), image.Pt(24, 24), image.Point{}))
	require.True(t, parent.SetWindow(image.Point{}))
	want := parent.CalcOrd(0)

	clone := parent.Clone()
	require.True(t, clone.SetWindow(image.Point{}))
	assert.Equal(t, want, clone.CalcOrd(0))

	require.True(t, clone.SetImage(halfImage(24, 24, 200, 0), image.Pt(24, 24), image.Point{}))
	require.True(t, clone.SetWindow(image.Point{}))
	assert.Equal(t, -want, clone.CalcOrd(0))

	require.True(t, parent.SetWindow(image.Point{}))
	assert.Equal(t, want, parent.CalcOrd(0))
}

func lbpImage(center, around uint8) *image.Gray {
	img := uniformGray(9, 9, around)
	for y := 3; y < 6; y++ {
		for x := 3; x < 6; x++ {
			img.SetGray(x, y, colorGray(center))
		}
	}
	return img
}

func TestLBP_Codes(t *testing.T) {
	ev := NewLBP([]LBPFeature{{Rect: image.Rect(0, 0, 3, 3)}})

	require.True(t, ev.SetImage(lbpImage(200, 10), image.Pt(9, 9), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))
	assert.Equal(t, 0, ev.CalcCat(0))

	require.True(t, ev.SetImage(lbpImage(10, 200), image.Pt(9, 9), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))
	assert.Equal(t, 255, ev.CalcCat(0))
	assert.Equal(t, 255.0, ev.CalcOrd(0))

	// Ties count as set bits.
	require.True(t, ev.SetImage(uniformGray(9, 9, 7), image.Pt(9, 9), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))
	assert.Equal(t, 255, ev.CalcCat(0))
}

func TestLBP_SingleBrightNeighbour(t *testing.T) {
	img := uniformGray(9, 9, 10)
	// top-left block only
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			img.SetGray(x, y, colorGray(250))
		}
	}
	for y := 3; y < 6; y++ {
		for x := 3; x < 6; x++ {
			img.SetGray(x, y, colorGray(100))
		}
	}
	ev := NewLBP([]LBPFeature{{Rect: image.Rect(0, 0, 3, 3)}})
	require.True(t, ev.SetImage(img, image.Pt(9, 9), image.Point{}))
	require.True(t, ev.SetWindow(image.Point{}))
	assert.Equal(t, 128, ev.CalcCat(0))
}

func TestHOG_EdgeResponse(t *testing.T) {
	img := halfImage(16, 16, 0, 255)
	feats := []HOGFeature{
		{Rect: image.Rect(4, 4, 8, 8), Component: 8},     // cell 0, horizontal gradient bin
		{Rect: image.Rect(4, 4, 8, 8), Component: Bins},  // cell 1, bin 0
		{Rect: image.Rect(0, 0, 2, 2), Component: 8},     // flat area
	}
	ev := NewHOG(feats)
	require.True(t, ev.SetImage(img, image.Pt(12, 12), image.Point{}))
	require.True(t, ev.SetWindow(image.Pt(0, 0)))

	v := ev.CalcOrd(0)
	assert.Greater(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
	assert.Equal(t, 0.0, ev.CalcOrd(1))
	assert.Equal(t, 0.0, ev.CalcOrd(2))
	assert.Equal(t, HOG, ev.FeatureType())
}

func TestHOG_WindowLeavesMargin(t *testing.T) {
	ev := NewHOG([]HOGFeature{{Rect: image.Rect(0, 0, 2, 2)}})
	require.True(t, ev.SetImage(uniformGray(16, 16, 0), image.Pt(12, 12), image.Point{}))
	assert.True(t, ev.SetWindow(image.Pt(2, 2)))
	assert.False(t, ev.SetWindow(image.Pt(3, 0)))
}

func TestHistogram_NormIsTotalMagnitude(t *testing.T) {
	img := randomGray(10, 8, 3)
	h := NewHistogram(image.Pt(11, 9))
	h.Compute(img)

	all := [4]int{0, 10, 8 * h.Stride, 8*h.Stride + 10}
	var total float32
	for b := 0; b < Bins; b++ {
		total += sumAtF(h.Bins[b], 0, all)
	}
	assert.InDelta(t, sumAtF(h.Norm, 0, all), total, 1e-2)
}
