package governor

import (
	"errors"
	"time"
)

// ErrCircuitOpen is returned, wrapped in an apperr.Error, when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker counts failures and rejects calls once the threshold is reached,
// until timeout has elapsed since the last recorded error.
//
// Without the half-open trial the breaker resets optimistically after the timeout.
// With it, exactly one call is let through; its outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	threshold     int
	timeout       time.Duration
	halfOpenTrial bool

	state         BreakerState
	errorCount    int
	lastErrorTime time.Time
	trialing      bool
}

func NewCircuitBreaker(threshold int, timeout time.Duration, halfOpenTrial bool) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold:     threshold,
		timeout:       timeout,
		halfOpenTrial: halfOpenTrial,
	}
}

// Allow reports whether a call may be attempted at now, advancing OPEN to CLOSED or
// HALF_OPEN when the timeout has passed.
func (b *CircuitBreaker) Allow(now time.Time) error {
	switch b.state {
	case BreakerOpen:
		if now.Sub(b.lastErrorTime) < b.timeout {
			return ErrCircuitOpen
		}
		if b.halfOpenTrial {
			b.state = BreakerHalfOpen
			b.trialing = true
			return nil
		}
		b.reset()
		return nil
	case BreakerHalfOpen:
		if b.trialing {
			return ErrCircuitOpen
		}
		b.trialing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess clears the error count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.reset()
}

// RecordFailure counts an error at now and reports whether the breaker transitioned to OPEN.
// An error while OPEN restarts the timeout countdown.
func (b *CircuitBreaker) RecordFailure(now time.Time) bool {
	switch b.state {
	case BreakerHalfOpen:
		b.errorCount++
		b.lastErrorTime = now
		b.state = BreakerOpen
		b.trialing = false
		return true
	case BreakerOpen:
		b.errorCount++
		b.lastErrorTime = now
		return false
	}

	// errors older than the timeout no longer count toward the threshold
	if !b.lastErrorTime.IsZero() && now.Sub(b.lastErrorTime) >= b.timeout {
		b.errorCount = 0
	}
	b.errorCount++
	b.lastErrorTime = now
	if b.errorCount >= b.threshold {
		b.state = BreakerOpen
		return true
	}
	return false
}

// Abandon releases a half-open trial call that ended without an outcome, returning the
// breaker to OPEN without counting an error. The timeout has already elapsed, so the next
// Allow admits a new trial call. It reports whether a trial call was released.
func (b *CircuitBreaker) Abandon() bool {
	if b.state != BreakerHalfOpen || !b.trialing {
		return false
	}
	b.state = BreakerOpen
	b.trialing = false
	return true
}

func (b *CircuitBreaker) reset() {
	b.state = BreakerClosed
	b.errorCount = 0
	b.trialing = false
}

func (b *CircuitBreaker) State() BreakerState { return b.state }

func (b *CircuitBreaker) ErrorCount() int { return b.errorCount }

func (b *CircuitBreaker) LastErrorTime() time.Time { return b.lastErrorTime }
