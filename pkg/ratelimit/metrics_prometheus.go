package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the RateLimitMetrics interface using Prometheus.
//
// All metrics use a custom registry for better testability and isolation.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// attemptsTotal tracks limiter decisions.
	// Labels:
	//   - operation: rate limited operation name
	//   - status: "allowed" or "denied"
	attemptsTotal *prometheus.CounterVec

	// checkDuration tracks the duration of window store checks.
	// Buckets cover in-memory checks (sub-millisecond) through Redis
	// round trips.
	checkDuration *prometheus.HistogramVec

	// storeErrorsTotal counts window store failures (fail-open).
	storeErrorsTotal *prometheus.CounterVec

	// activeKeys tracks the number of live windows.
	activeKeys prometheus.Gauge

	// circuitState tracks the store circuit breaker state.
	// Values:
	//   - 0: Closed
	//   - 1: Open (store bypassed, all attempts allowed)
	//   - 2: Half-Open
	circuitState prometheus.Gauge
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance with a custom registry.
//
// The registry can be passed to promhttp.HandlerFor() to expose metrics, or
// gathered alongside the default registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	attemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operation_rate_limit_attempts_total",
			Help: "Total rate limited attempts by operation and status",
		},
		[]string{"operation", "status"},
	)

	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "operation_rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit window store checks",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	storeErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operation_rate_limit_store_errors_total",
			Help: "Total rate limit window store failures by operation",
		},
		[]string{"operation"},
	)

	activeKeys := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "operation_rate_limit_active_keys",
			Help: "Current number of live rate limit windows",
		},
	)

	circuitState := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "operation_rate_limit_circuit_state",
			Help: "Window store circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	registry.MustRegister(
		attemptsTotal,
		checkDuration,
		storeErrorsTotal,
		activeKeys,
		circuitState,
	)

	return &PrometheusMetrics{
		registry:         registry,
		attemptsTotal:    attemptsTotal,
		checkDuration:    checkDuration,
		storeErrorsTotal: storeErrorsTotal,
		activeKeys:       activeKeys,
		circuitState:     circuitState,
	}
}

// Registry returns the Prometheus registry containing all rate limit metrics.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAllowed records an allowed attempt.
func (m *PrometheusMetrics) RecordAllowed(operation string) {
	m.attemptsTotal.WithLabelValues(operation, "allowed").Inc()
}

// RecordDenied records a denied attempt.
func (m *PrometheusMetrics) RecordDenied(operation string) {
	m.attemptsTotal.WithLabelValues(operation, "denied").Inc()
}

// RecordCheckDuration records the duration of a window store check.
func (m *PrometheusMetrics) RecordCheckDuration(operation string, duration time.Duration) {
	m.checkDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreError records a window store failure.
func (m *PrometheusMetrics) RecordStoreError(operation string) {
	m.storeErrorsTotal.WithLabelValues(operation).Inc()
}

// SetActiveKeys records the number of live windows.
func (m *PrometheusMetrics) SetActiveKeys(count int) {
	m.activeKeys.Set(float64(count))
}

// RecordCircuitState records the store circuit breaker state.
//
// The state is mapped to a numeric gauge for Prometheus alerting:
//   - 0 = closed
//   - 1 = open
//   - 2 = half-open
func (m *PrometheusMetrics) RecordCircuitState(state string) {
	var stateValue float64
	switch state {
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 2
	default:
		stateValue = 0
	}
	m.circuitState.Set(stateValue)
}
