package utils

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUtils_MinMax(t *testing.T) {
	assert.Equal(t, 2, Min(2, 5))
	assert.Equal(t, 2, Min(5, 2))
	assert.Equal(t, 5, Max(2, 5))
	assert.Equal(t, 1.5, Abs(-1.5))
	assert.Equal(t, 10, Clamp(42, 1, 10))
	assert.Equal(t, 1, Clamp(-3, 1, 10))
}

func TestUtils_RoundHalfToEven(t *testing.T) {
	assert.Equal(t, 2, Round(2.5))
	assert.Equal(t, 4, Round(3.5))
	assert.Equal(t, 3, Round(2.51))
	assert.Equal(t, -2, Floor(-1.2))
}

func TestUtils_ParseSize(t *testing.T) {
	p, err := ParseSize("30x40")
	assert.NoError(t, err)
	assert.Equal(t, image.Pt(30, 40), p)

	p, err = ParseSize("24")
	assert.NoError(t, err)
	assert.Equal(t, image.Pt(24, 24), p)

	p, err = ParseSize("")
	assert.NoError(t, err)
	assert.Equal(t, image.Point{}, p)

	_, err = ParseSize("ax3")
	assert.Error(t, err)
	_, err = ParseSize("-1x3")
	assert.Error(t, err)

	assert.Equal(t, "30x40", FormatSize(image.Pt(30, 40)))
}

func TestUtils_FormatTime(t *testing.T) {
	assert.Equal(t, "250ms", FormatTime(250*time.Millisecond))
	assert.Equal(t, "1.50s", FormatTime(1500*time.Millisecond))
	assert.Equal(t, "2m 5.00s", FormatTime(125*time.Second))
}

func TestUtils_HexToRGBA(t *testing.T) {
	c, err := HexToRGBA("#ff0080")
	assert.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0x00, B: 0x80, A: 0xff}, c)

	c, err = HexToRGBA("0f0")
	assert.NoError(t, err)
	assert.Equal(t, color.NRGBA{G: 0xff, A: 0xff}, c)

	c, err = HexToRGBA("#11223344")
	assert.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x44}, c)

	_, err = HexToRGBA("#12345")
	assert.Error(t, err)
	_, err = HexToRGBA("#gggggg")
	assert.Error(t, err)
}
