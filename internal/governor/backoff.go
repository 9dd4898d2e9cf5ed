package governor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff produces the retry delay sequence: initial, initial*factor, ... capped at max.
// The sequence persists across guarded calls and only resets on success.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	current time.Duration
	eb      *backoff.ExponentialBackOff
}

func NewBackoff(initial, maxDelay time.Duration, factor float64) *Backoff {
	if maxDelay < initial {
		maxDelay = initial
	}
	if factor < 1 {
		factor = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxDelay
	eb.Multiplier = factor
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &Backoff{
		initial: initial,
		max:     maxDelay,
		factor:  factor,
		current: initial,
		eb:      eb,
	}
}

// Next returns the delay for the upcoming retry and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.eb.NextBackOff()
	if d == backoff.Stop || d > b.max {
		d = b.max
	}
	next := time.Duration(float64(d) * b.factor)
	if next > b.max || next < d {
		next = b.max
	}
	b.current = next
	return d
}

// Current is the delay the next retry will wait.
func (b *Backoff) Current() time.Duration { return b.current }

// Reset returns the sequence to the initial delay.
func (b *Backoff) Reset() {
	b.eb.Reset()
	b.current = b.initial
}
