package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBackoffMonotonicAndCapped verifies consecutive delays never shrink and never exceed the cap.
func TestBackoffMonotonicAndCapped(t *testing.T) {
	b := NewBackoff(time.Second, 300*time.Second, 2)

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 300*time.Second)
		assert.GreaterOrEqual(t, b.Current(), time.Second)
		assert.LessOrEqual(t, b.Current(), 300*time.Second)
		prev = d
	}
	assert.Equal(t, 300*time.Second, prev)

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second, 2)
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
}
