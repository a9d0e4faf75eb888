package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		seen := make([]int32, 100)
		For(len(seen), workers, func(i int) {
			atomic.AddInt32(&seen[i], 1)
		})
		for i, n := range seen {
			assert.Equal(t, int32(1), n, "index %d with %d workers", i, workers)
		}
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	For(0, 4, func(int) { called = true })
	assert.False(t, called)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 5, Workers(5))
	assert.Positive(t, Workers(0))
	assert.Positive(t, Workers(-2))
}
