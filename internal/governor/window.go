package governor

import "time"

// RateWindow is a sliding-window counter over admitted call timestamps.
// At any instant t, the number of timestamps in (t-window, t] never exceeds max.
type RateWindow struct {
	max    int
	window time.Duration
	stamps []time.Time // ascending
}

// NewRateWindow creates a window admitting at most limit calls per window.
func NewRateWindow(limit int, window time.Duration) *RateWindow {
	if limit < 1 {
		limit = 1
	}
	return &RateWindow{
		max:    limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
}

func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// wait returns how long until the window has room for one more call; zero means now.
func (w *RateWindow) wait(now time.Time) time.Duration {
	w.prune(now)
	if len(w.stamps) < w.max {
		return 0
	}
	return w.stamps[0].Add(w.window).Sub(now)
}

func (w *RateWindow) record(now time.Time) {
	w.stamps = append(w.stamps, now)
}

// Count returns the number of calls admitted in the trailing window.
func (w *RateWindow) Count(now time.Time) int {
	w.prune(now)
	return len(w.stamps)
}
