package objdetect

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/esimov/objdetect/imop"
)

// fillAlpha is the opacity of the marker color blended inside the detections.
const fillAlpha = 0x60

// ShapeType is the marker drawn around a detection.
type ShapeType string

const (
	ShapeRect   ShapeType = "rect"
	ShapeCircle ShapeType = "circle"
)

// Marker describes how detections are annotated.
type Marker struct {
	Shape     ShapeType
	Color     color.Color
	Thickness int
	// Fill, if set, blends the marker color inside the detections with this mode.
	Fill imop.Mode
}

// DefaultMarker draws red rectangles with a two pixel border.
func DefaultMarker() Marker {
	return Marker{Shape: ShapeRect, Color: color.NRGBA{R: 0xff, A: 0xff}, Thickness: 2}
}

// Annotate returns a copy of img with the detections marked on it.
func Annotate(img image.Image, rects []image.Rectangle, mk Marker) *image.NRGBA {
	dst := imaging.Clone(img)
	if mk.Thickness <= 0 {
		mk.Thickness = 1
	}
	if mk.Color == nil {
		mk.Color = DefaultMarker().Color
	}
	src := image.NewUniform(mk.Color)
	fill := color.NRGBAModel.Convert(mk.Color).(color.NRGBA)
	fill.A = fillAlpha
	origin := img.Bounds().Min

	for _, r := range rects {
		r = r.Sub(origin)
		switch mk.Shape {
		case ShapeCircle:
			if mk.Fill != "" {
				fillCircle(dst, r, fill, mk.Fill)
			}
			drawCircle(dst, r, src, mk.Thickness)
		default:
			if mk.Fill != "" {
				imop.Fill(dst, r, fill, mk.Fill)
			}
			drawRect(dst, r, src, mk.Thickness)
		}
	}
	return dst
}

// drawRect strokes the inside border of r.
func drawRect(dst draw.Image, r image.Rectangle, src image.Image, thickness int) {
	t := min(thickness, r.Dx()/2, r.Dy()/2)
	if t <= 0 {
		draw.Draw(dst, r, src, image.Point{}, draw.Over)
		return
	}
	edges := [4]image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+t, r.Min.X+t, r.Max.Y-t),
		image.Rect(r.Max.X-t, r.Min.Y+t, r.Max.X, r.Max.Y-t),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Over)
	}
}

// fillCircle blends c inside the circle inscribed in r.
func fillCircle(dst *image.NRGBA, r image.Rectangle, c color.NRGBA, mode imop.Mode) {
	center := image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
	radius := min(r.Dx(), r.Dy()) / 2

	bounds := r.Intersect(dst.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy < radius*radius {
				dst.SetNRGBA(x, y, mode.Blend(c, dst.NRGBAAt(x, y)))
			}
		}
	}
}

// drawCircle strokes the circle inscribed in r.
func drawCircle(dst draw.Image, r image.Rectangle, src image.Image, thickness int) {
	c := image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
	outer := min(r.Dx(), r.Dy()) / 2
	inner := max(outer-thickness, 0)
	col := src.At(0, 0)

	bounds := r.Intersect(dst.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-c.X, y-c.Y
			d := dx*dx + dy*dy
			if d < outer*outer && d >= inner*inner {
				dst.Set(x, y, col)
			}
		}
	}
}
