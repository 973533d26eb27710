// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Health monitor metrics track the remote store circuit breaker
var (
	// BreakerOpen is 1 while the remote store circuit is open
	BreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remote_store_circuit_open",
			Help: "Whether the remote store circuit breaker is open (1) or closed (0)",
		},
	)

	// BreakerConsecutiveFailures tracks consecutive failed probes
	BreakerConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remote_store_consecutive_failures",
			Help: "Consecutive failed connectivity probes",
		},
	)

	// ProbesTotal counts connectivity probes by result
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_store_probes_total",
			Help: "Total number of remote store connectivity probes",
		},
		[]string{"result"}, // result: success, failure
	)

	// ProbeDuration measures connectivity probe latency
	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remote_store_probe_duration_seconds",
			Help:    "Remote store connectivity probe duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)
)

// Resilient call metrics track every remote operation
var (
	// RemoteCallsTotal counts resilient calls by operation and outcome
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_calls_total",
			Help: "Total number of remote calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// RemoteCallDuration measures resilient call duration including retries
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Remote call duration in seconds including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// RetryAttemptsTotal counts retries after a transient failure
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_call_retries_total",
			Help: "Total number of remote call retries",
		},
		[]string{"operation"},
	)
)

// Business metrics track booking, session and alert activity
var (
	// BookingEventsTotal counts incoming booking events
	BookingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_events_total",
			Help: "Total number of booking events received",
		},
		[]string{"result"}, // result: started, duplicate, invalid
	)

	// BookingResolutionsTotal counts terminal booking transitions
	BookingResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_resolutions_total",
			Help: "Total number of booking terminal transitions",
		},
		[]string{"status"}, // status: accepted, rejected, expired
	)

	// BookingWriteFailuresTotal counts terminal writes that did not reach the store
	BookingWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_write_failures_total",
			Help: "Total number of failed booking terminal writes",
		},
		[]string{"status"},
	)

	// BookingsPending tracks bookings awaiting a provider response
	BookingsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookings_pending",
			Help: "Number of bookings awaiting a provider response",
		},
	)

	// SessionCorrectionsTotal counts consistency corrections
	SessionCorrectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_corrections_total",
			Help: "Total number of session consistency corrections",
		},
		[]string{"kind"}, // kind: created, remote_wins, invalid
	)

	// SessionsClosedTotal counts sessions closed by reason
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_closed_total",
			Help: "Total number of chat sessions closed",
		},
		[]string{"reason"}, // reason: explicit, stale, sweep
	)

	// SessionSweepDuration measures the expired session sweep
	SessionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_sweep_duration_seconds",
			Help:    "Expired session sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// AlertsActive tracks alerts currently repeating
	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alerts_active",
			Help: "Number of persistent alerts currently repeating",
		},
	)

	// AlertFailuresTotal counts swallowed alert failures
	AlertFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_failures_total",
			Help: "Total number of swallowed alert failures",
		},
		[]string{"stage"}, // stage: playback, fallback, notification, vibration
	)

	// PushSendsTotal counts push notification sends by result
	PushSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_sends_total",
			Help: "Total number of push notification sends",
		},
		[]string{"kind", "result"},
	)
)
