package utils

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"time"
)

// MessageType is a custom type used as a placeholder for various message types.
type MessageType int

// The message types used accross the CLI application.
const (
	DefaultMessage MessageType = iota
	SuccessMessage
	ErrorMessage
	StatusMessage
)

// Colors used accross the CLI application.
const (
	DefaultColor = "\x1b[0m"
	StatusColor  = "\x1b[36m"
	SuccessColor = "\x1b[32m"
	ErrorColor   = "\x1b[31m"
)

// DecorateText shows the message types in different colors.
func DecorateText(s string, msgType MessageType) string {
	switch msgType {
	case DefaultMessage:
		s = DefaultColor + s
	case StatusMessage:
		s = StatusColor + s
	case SuccessMessage:
		s = SuccessColor + s
	case ErrorMessage:
		s = ErrorColor + s
	default:
		return s
	}
	return s + DefaultColor
}

// FormatTime formats time.Duration output to a human readable value.
func FormatTime(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d.Minutes() < 1:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d.Hours() < 1:
		return fmt.Sprintf("%dm %.2fs", int64(d.Minutes()), math.Mod(d.Seconds(), 60))
	}
	return fmt.Sprintf("%dh %dm %.2fs",
		int64(d.Hours()), int64(math.Mod(d.Minutes(), 60)), math.Mod(d.Seconds(), 60))
}

// ParseSize parses a size given as "WxH" or a single number used for both sides.
// An empty string yields the zero size.
func ParseSize(s string) (image.Point, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return image.Point{}, nil
	}
	w, h, found := strings.Cut(s, "x")
	if !found {
		h = w
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid width in size %q: %w", s, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid height in size %q: %w", s, err)
	}
	if width < 0 || height < 0 {
		return image.Point{}, fmt.Errorf("size %q must not be negative", s)
	}
	return image.Pt(width, height), nil
}

// FormatSize is the inverse of ParseSize.
func FormatSize(p image.Point) string {
	return fmt.Sprintf("%dx%d", p.X, p.Y)
}

// HexToRGBA converts a color given as "#rrggbb", "#rgb" or "#rrggbbaa" to color.NRGBA.
func HexToRGBA(s string) (color.NRGBA, error) {
	c := color.NRGBA{A: 0xff}
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6, 8:
	default:
		return c, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 8 {
		c.A = uint8(v)
		v >>= 8
	}
	c.R, c.G, c.B = uint8(v>>16), uint8(v>>8), uint8(v)
	return c, nil
}
