// Package governor gatekeeps every outbound exchange call: sliding-window rate limits for
// general and order calls, a circuit breaker on the error rate, and exponential backoff retries.
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/metrics"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"go.uber.org/zap"
)

// Class selects which rate windows a call is counted against.
type Class int

const (
	// ClassGeneral calls count against the general window only.
	ClassGeneral Class = iota
	// ClassOrder calls need capacity in both the general and the order window.
	ClassOrder
)

func (c Class) String() string {
	if c == ClassOrder {
		return "order"
	}
	return "general"
}

// Config holds the governor limits in Go units.
type Config struct {
	MaxRequests        int
	Window             time.Duration
	MaxOrdersPerSecond int
	ErrorThreshold     int
	CircuitTimeout     time.Duration
	HalfOpenProbe      bool
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffFactor      float64
	MaxAttempts        int
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c models.GovernorConfig) Config {
	return Config{
		MaxRequests:        c.MaxRequestsPerWindow,
		Window:             time.Duration(c.WindowSeconds) * time.Second,
		MaxOrdersPerSecond: c.MaxOrdersPerSecond,
		ErrorThreshold:     c.ErrorThreshold,
		CircuitTimeout:     time.Duration(c.CircuitTimeoutSeconds) * time.Second,
		HalfOpenProbe:      c.HalfOpenProbe,
		InitialBackoff:     seconds(c.InitialBackoff),
		MaxBackoff:         seconds(c.MaxBackoff),
		BackoffFactor:      c.BackoffFactor,
		MaxAttempts:        c.MaxAPIRetries,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Option customises a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// Governor owns the rate windows, breaker and backoff state of one exchange account.
type Governor struct {
	mu      sync.Mutex
	cfg     Config
	general *RateWindow
	orders  *RateWindow
	breaker *CircuitBreaker
	backoff *Backoff
	clock   Clock
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger, opts ...Option) *Governor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	g := &Governor{
		cfg:     cfg,
		general: NewRateWindow(cfg.MaxRequests, cfg.Window),
		orders:  NewRateWindow(cfg.MaxOrdersPerSecond, time.Second),
		breaker: NewCircuitBreaker(cfg.ErrorThreshold, cfg.CircuitTimeout, cfg.HalfOpenProbe),
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, cfg.BackoffFactor),
		clock:   SystemClock(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	metrics.BackoffSeconds.Set(g.backoff.Current().Seconds())
	return g
}

// Clock returns the clock used by the governor.
func (g *Governor) Clock() Clock { return g.clock }

// Admit blocks until the windows for class have capacity and records the call.
// It only fails when ctx is cancelled while waiting.
func (g *Governor) Admit(ctx context.Context, class Class) error {
	start := g.clock.Now()
	for {
		g.mu.Lock()
		now := g.clock.Now()
		wait := g.general.wait(now)
		if class == ClassOrder {
			if w := g.orders.wait(now); w > wait {
				wait = w
			}
		}
		if wait <= 0 {
			g.general.record(now)
			if class == ClassOrder {
				g.orders.record(now)
			}
			g.mu.Unlock()
			metrics.GovernorAdmitWait.WithLabelValues(class.String()).Observe(now.Sub(start).Seconds())
			return nil
		}
		g.mu.Unlock()

		g.logger.Debug("rate window full, waiting",
			zap.Stringer("class", class),
			zap.Duration("wait", wait))
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Guard runs fn under the breaker, the rate windows and the retry policy.
//
// Outcomes: nil on success; an apperr.KindCircuitOpen error when the breaker rejects the
// call before any attempt; otherwise the last error of fn once retries are exhausted or
// the error is not retryable. fn receives a context that is not cancelled with ctx, so an
// in-flight exchange call completes; waits between attempts do honour ctx.
func (g *Governor) Guard(ctx context.Context, class Class, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := g.allow(); err != nil {
			metrics.GovernorCalls.WithLabelValues(class.String(), "rejected").Inc()
			if lastErr != nil {
				return lastErr
			}
			return &apperr.Error{Kind: apperr.KindCircuitOpen, Op: op, Err: err}
		}
		ran, err := g.attempt(ctx, class, fn)
		if !ran {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if err == nil {
			g.onSuccess()
			metrics.GovernorCalls.WithLabelValues(class.String(), "success").Inc()
			return nil
		}
		lastErr = err
		metrics.GovernorCalls.WithLabelValues(class.String(), "failure").Inc()
		g.onFailure(op, err)

		if !apperr.IsRetryable(err) || attempt == g.cfg.MaxAttempts || g.breakerOpen() {
			break
		}
		delay := g.nextDelay()
		metrics.GovernorRetries.WithLabelValues(class.String()).Inc()
		g.logger.Sugar().Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, g.cfg.MaxAttempts, delay, err)
		if err := g.clock.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Call is Guard for operations that return a value.
func Call[T any](ctx context.Context, g *Governor, class Class, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Guard(ctx, class, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// attempt admits and runs fn once. ran is false when admission failed. A half-open trial
// call that ends without an outcome (admission cancelled or fn panicked) is released.
func (g *Governor) attempt(ctx context.Context, class Class, fn func(context.Context) error) (ran bool, err error) {
	defer func() {
		if !ran {
			g.abandonTrial()
		}
	}()
	if admitErr := g.Admit(ctx, class); admitErr != nil {
		return false, admitErr
	}
	err = fn(context.WithoutCancel(ctx))
	return true, err
}

func (g *Governor) abandonTrial() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breaker.Abandon() {
		g.logger.Warn("half-open trial call ended without an outcome, circuit breaker back to open")
	}
}

func (g *Governor) breakerOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breaker.State() == BreakerOpen
}

func (g *Governor) allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := g.breaker.State()
	err := g.breaker.Allow(g.clock.Now())
	if after := g.breaker.State(); after != before {
		g.logger.Info("circuit breaker transition",
			zap.Stringer("from", before),
			zap.Stringer("to", after))
		if after == BreakerClosed {
			metrics.BreakerOpen.Set(0)
		}
	}
	return err
}

func (g *Governor) onSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breaker.State() != BreakerClosed {
		g.logger.Info("circuit breaker closed after successful call")
	}
	g.breaker.RecordSuccess()
	g.backoff.Reset()
	metrics.BreakerOpen.Set(0)
	metrics.BackoffSeconds.Set(g.backoff.Current().Seconds())
}

func (g *Governor) onFailure(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	opened := g.breaker.RecordFailure(g.clock.Now())
	if opened {
		metrics.BreakerOpen.Set(1)
		g.logger.Error("circuit breaker opened",
			zap.String("op", op),
			zap.Int("error_count", g.breaker.ErrorCount()),
			zap.Duration("timeout", g.cfg.CircuitTimeout),
			zap.Error(err))
	}
}

func (g *Governor) nextDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.backoff.Next()
	metrics.BackoffSeconds.Set(g.backoff.Current().Seconds())
	return d
}

// Snapshot reports the current governor state.
func (g *Governor) Snapshot() models.GovernorStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	return models.GovernorStatus{
		BreakerState:    g.breaker.State().String(),
		ErrorCount:      g.breaker.ErrorCount(),
		LastErrorTime:   g.breaker.LastErrorTime(),
		CurrentBackoff:  g.backoff.Current().Seconds(),
		GeneralInWindow: g.general.Count(now),
		OrdersInWindow:  g.orders.Count(now),
		MaxRequests:     g.cfg.MaxRequests,
		MaxOrdersPerSec: g.cfg.MaxOrdersPerSecond,
	}
}
