// Package metrics holds the Prometheus collectors updated by the bot.
//
//   - awan_governor_calls_total{class,outcome}   guarded exchange calls (success|failure|rejected)
//   - awan_governor_retries_total{class}         retries scheduled by the backoff controller
//   - awan_governor_admit_wait_seconds{class}    time spent waiting for rate window capacity
//   - awan_governor_breaker_open                 1 while the circuit breaker rejects calls
//   - awan_governor_backoff_seconds              current retry delay
//   - awan_open_positions                        size of the active position set
//   - awan_trades_opened_total                   confirmed entries
//   - awan_trades_closed_total{reason}           closed trades by close reason
//   - awan_cycles_total{result}                  orchestrator cycles (ok|unhealthy|error)
//   - awan_cycle_duration_seconds                wall time of a cycle
//
// Collectors are registered in init() and served by Handler at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GovernorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awan_governor_calls_total",
			Help: "Guarded exchange calls by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	GovernorRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awan_governor_retries_total",
			Help: "Retries scheduled after a retryable failure",
		},
		[]string{"class"},
	)

	GovernorAdmitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "awan_governor_admit_wait_seconds",
			Help:    "Time spent waiting for rate window capacity",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		},
		[]string{"class"},
	)

	BreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "awan_governor_breaker_open",
			Help: "1 while the circuit breaker rejects calls",
		},
	)

	BackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "awan_governor_backoff_seconds",
			Help: "Delay the next retry will wait",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "awan_open_positions",
			Help: "Number of active positions",
		},
	)

	TradesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "awan_trades_opened_total",
			Help: "Positions opened on a confirmed buy fill",
		},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awan_trades_closed_total",
			Help: "Closed trades by close reason",
		},
		[]string{"reason"},
	)

	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "awan_cycles_total",
			Help: "Orchestrator cycles by result",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "awan_cycle_duration_seconds",
			Help:    "Wall time of one orchestrator cycle",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		GovernorCalls,
		GovernorRetries,
		GovernorAdmitWait,
		BreakerOpen,
		BackoffSeconds,
		OpenPositions,
		TradesOpened,
		TradesClosed,
		Cycles,
		CycleDuration,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
