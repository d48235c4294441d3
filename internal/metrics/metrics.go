// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts pipeline outcomes: "sent", or the name of the
	// stage that rejected the submission.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_relay_submissions_total",
			Help: "Total number of submissions by pipeline outcome",
		},
		[]string{"outcome"},
	)

	// RateLimitDecisionsTotal counts limiter decisions per dimension.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_relay_rate_limit_decisions_total",
			Help: "Rate limit decisions by dimension and result",
		},
		[]string{"dimension", "result"}, // result: allowed, denied, fail_open, fail_closed
	)

	// CounterStoreErrorsTotal counts counter store failures.
	CounterStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_relay_counter_store_errors_total",
			Help: "Counter store errors by operation",
		},
		[]string{"op"}, // op: get, increment
	)

	// DeliveryDuration observes provider send latency.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "form_relay_delivery_duration_seconds",
			Help:    "Email delivery duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"provider", "kind", "status"}, // kind: primary, auto_reply
	)

	// AutoReplyTotal counts auto-reply outcomes.
	AutoReplyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "form_relay_auto_reply_total",
			Help: "Auto-reply attempts by status",
		},
		[]string{"status"},
	)
)

// IncrementSubmission records one pipeline outcome.
func IncrementSubmission(outcome string) {
	SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// IncrementRateLimitDecision records one limiter decision.
func IncrementRateLimitDecision(dimension, result string) {
	RateLimitDecisionsTotal.WithLabelValues(dimension, result).Inc()
}

// IncrementCounterStoreError records one counter store failure.
func IncrementCounterStoreError(op string) {
	CounterStoreErrorsTotal.WithLabelValues(op).Inc()
}

// RecordDelivery records the latency of one provider send.
func RecordDelivery(provider, kind string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	DeliveryDuration.WithLabelValues(provider, kind, status).Observe(duration.Seconds())
}

// IncrementAutoReply records one auto-reply outcome.
func IncrementAutoReply(status string) {
	AutoReplyTotal.WithLabelValues(status).Inc()
}
