package utils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Min returns the smaller value between two numbers.
func Min[T constraints.Ordered](x, y T) T {
	if x < y {
		return x
	}
	return y
}

// Max returns the bigger value between two numbers.
func Max[T constraints.Ordered](x, y T) T {
	if x > y {
		return x
	}
	return y
}

// Abs returns the absolut value of x.
func Abs[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// Clamp restricts x to the closed interval [lo, hi].
func Clamp[T constraints.Ordered](x, lo, hi T) T {
	return Min(Max(x, lo), hi)
}

// Round rounds half to even and converts the result to int,
// which is how the detection grid maps scaled coordinates back to the source image.
func Round[T constraints.Float](x T) int {
	return int(math.RoundToEven(float64(x)))
}

// Floor returns the greatest integer value less than or equal to x.
func Floor[T constraints.Float](x T) int {
	return int(math.Floor(float64(x)))
}
