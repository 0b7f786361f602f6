// Package metrics holds the Prometheus collectors for the publishing pipeline.
// Collectors register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_outcomes_total",
			Help: "Per-platform publish attempts by result",
		},
		[]string{"platform", "result"}, // result: success, failure
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Time spent publishing to one platform",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"platform"},
	)

	PostTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_post_transitions_total",
			Help: "Scheduled posts by status after a dispatch attempt",
		},
		[]string{"status"},
	)

	DispatchTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_ticks_total",
			Help: "Dispatch ticks by result",
		},
		[]string{"result"}, // result: ok, error, skipped
	)

	DispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_tick_duration_seconds",
			Help:    "Duration of one dispatch tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Token refresh daemon results per account",
		},
		[]string{"platform", "result"}, // result: refreshed, valid, invalid, error
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)
)
