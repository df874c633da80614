// Package metrics holds the Prometheus collectors of the scheduler. Labels are
// limited to small fixed sets (source, outcome, result) to keep cardinality
// bounded.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Executions counts finished execution attempts by entry point and outcome
	// (confirmed, failed, skipped, timeout, invalid, ...).
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prebooking_executions_total",
			Help: "Prebooking execution attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	// FireSkew is the signed distance between the booking request and the
	// instant the slot opened. Buckets are centred on the ±50ms window.
	FireSkew = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prebooking_fire_skew_seconds",
			Help:    "Booking request time minus slot availability time.",
			Buckets: []float64{-0.5, -0.1, -0.05, -0.025, 0, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
	)

	// BookLatency is the duration of the booking call itself.
	BookLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prebooking_book_latency_seconds",
			Help:    "Duration of the third-party booking request.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_token_refreshes_total",
			Help: "Token refresh attempts by result (success, logout, error).",
		},
		[]string{"result"},
	)

	SweepBatch = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_batch_size",
			Help:    "Due intents picked up per sweep invocation.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	SweepRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_remaining_due",
			Help: "Due pending intents left after the last sweep.",
		},
	)

	// Triggers counts broker side events: published, cancelled, relayed, dropped.
	Triggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_events_total",
			Help: "Scheduling trigger events by kind.",
		},
		[]string{"event"},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(Executions, FireSkew, BookLatency, TokenRefreshes,
		SweepBatch, SweepRemaining, Triggers, httpReqs, httpLat)
}

// ObserveHTTP records one served request. path must be the route pattern,
// never the raw URL.
func ObserveHTTP(method, path string, status int, d time.Duration) {
	httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpLat.WithLabelValues(method, path).Observe(d.Seconds())
}
