// Package imop implements the separable blend modes used for mixing a solid
// color with its backdrop. The detector uses it to highlight the detected
// regions on the annotated images.
package imop

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/esimov/objdetect/utils"
)

// Mode is a blend mode.
type Mode string

const (
	Normal   Mode = "normal"
	Darken   Mode = "darken"
	Lighten  Mode = "lighten"
	Multiply Mode = "multiply"
	Screen   Mode = "screen"
	Overlay  Mode = "overlay"
)

var modes = []Mode{Normal, Darken, Lighten, Multiply, Screen, Overlay}

// ParseMode returns the blend mode named s. The empty string is Normal.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Normal, nil
	}
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("blend mode %q not supported", s)
}

// channel blends the source channel cs over the backdrop channel cb, both in [0, 1].
func (m Mode) channel(cs, cb float64) float64 {
	switch m {
	case Darken:
		return utils.Min(cs, cb)
	case Lighten:
		return utils.Max(cs, cb)
	case Multiply:
		return cs * cb
	case Screen:
		return 1 - (1-cs)*(1-cb)
	case Overlay:
		// overlay is hard light with the layers swapped
		if cb <= 0.5 {
			return 2 * cs * cb
		}
		return 1 - 2*(1-cs)*(1-cb)
	}
	return cs
}

// Blend mixes src into dst. The blended color is then composited over dst
// with the alpha of src.
func (m Mode) Blend(src, dst color.NRGBA) color.NRGBA {
	as := float64(src.A) / 255
	ab := float64(dst.A) / 255
	mix := func(s, b uint8) uint8 {
		cs, cb := float64(s)/255, float64(b)/255
		c := as*m.channel(cs, cb) + (1-as)*cb
		return uint8(utils.Clamp(c*255+0.5, 0, 255))
	}
	return color.NRGBA{
		R: mix(src.R, dst.R),
		G: mix(src.G, dst.G),
		B: mix(src.B, dst.B),
		A: uint8(utils.Clamp((as+ab*(1-as))*255+0.5, 0, 255)),
	}
}

// Fill blends c into every pixel of dst inside r.
func Fill(dst *image.NRGBA, r image.Rectangle, c color.NRGBA, m Mode) {
	r = r.Intersect(dst.Bounds())
	if c.A == 0 || r.Empty() {
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.SetNRGBA(x, y, m.Blend(c, dst.NRGBAAt(x, y)))
		}
	}
}
