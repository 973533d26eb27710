package worker

import (
	"marketplace-core/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics embeds the standard worker_config_* metrics and adds the
// session sweep job metrics:
//   - worker_sweep_runs_total: sweep runs by status (success/failure)
//   - worker_sweep_duration_seconds: sweep duration
//   - worker_sweep_sessions_closed_total: sessions closed by sweeps
//   - worker_sweep_last_success_timestamp: Unix timestamp of the last successful sweep
//
// Metrics register with the default registry, so create one instance per
// process.
type WorkerMetrics struct {
	*config.ConfigMetrics

	SweepRunsTotal           *prometheus.CounterVec
	SweepDurationSeconds     prometheus.Histogram
	SweepSessionsClosedTotal prometheus.Counter
	SweepLastSuccess         prometheus.Gauge
}

// NewWorkerMetrics creates and registers the worker metrics.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		SweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_sweep_runs_total",
			Help: "Total number of session sweep runs by status (success/failure)",
		}, []string{"status"}),

		SweepDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_sweep_duration_seconds",
			Help:    "Duration of session sweep runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		}),

		SweepSessionsClosedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_sweep_sessions_closed_total",
			Help: "Total number of expired sessions closed by sweeps",
		}),

		SweepLastSuccess: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful session sweep",
		}),
	}
}

// RecordSweep records one sweep run. A run with failed closes still counts
// as a success when the listing itself worked.
func (m *WorkerMetrics) RecordSweep(closed int, seconds float64, err error) {
	m.SweepDurationSeconds.Observe(seconds)
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("success").Inc()
	m.SweepSessionsClosedTotal.Add(float64(closed))
	m.SweepLastSuccess.SetToCurrentTime()
}
