package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketplace-core/internal/observability/metrics"
)

// Probe is a lightweight "am I connected" call against the remote store.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

// Ping calls f.
func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MonitorConfig holds the health monitor thresholds.
type MonitorConfig struct {
	// FailureThreshold is the number of consecutive probe failures that opens the circuit
	FailureThreshold int

	// Cooldown is how long an open circuit refuses calls before probing again
	Cooldown time.Duration

	// ProbeInterval is the period of the background probe started by Start
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe
	ProbeTimeout time.Duration
}

// DefaultMonitorConfig returns the remote store defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		ProbeInterval:    60 * time.Second,
		ProbeTimeout:     5 * time.Second,
	}
}

// Status is a snapshot of the monitor's view of the remote store.
type Status struct {
	IsHealthy           bool      `json:"isHealthy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CircuitOpen         bool      `json:"circuitOpen"`
	LastCheckTime       time.Time `json:"lastCheckTime"`
}

// Diagnostic renders the status for connection errors and logs.
func (s Status) Diagnostic() string {
	state := "CLOSED"
	if s.CircuitOpen {
		state = "OPEN"
	}
	return fmt.Sprintf("circuit breaker: %s, failures: %d", state, s.ConsecutiveFailures)
}

// HealthMonitor is a probe-driven circuit breaker for the remote store.
//
// Closed: every IsHealthy call runs one probe. Open: calls are refused
// without probing until Cooldown has passed since the last check; the next
// call then runs a single probe (half-open) that closes or re-opens the
// circuit. Concurrent callers share one in-flight probe.
type HealthMonitor struct {
	probe  Probe
	cfg    MonitorConfig
	clock  Clock
	logger *slog.Logger

	flight singleflight.Group

	mu    sync.Mutex
	state Status

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithClock injects the clock.
func WithClock(c Clock) MonitorOption {
	return func(m *HealthMonitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *HealthMonitor) { m.logger = l }
}

// NewHealthMonitor creates a monitor in the closed, healthy state.
func NewHealthMonitor(probe Probe, cfg MonitorConfig, opts ...MonitorOption) *HealthMonitor {
	def := DefaultMonitorConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	m := &HealthMonitor{
		probe:  probe,
		cfg:    cfg,
		clock:  systemClock{},
		logger: slog.Default(),
		state:  Status{IsHealthy: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsHealthy reports whether the remote store may be called.
func (m *HealthMonitor) IsHealthy(ctx context.Context) bool {
	if m.coolingDown() {
		return false
	}

	v, _, _ := m.flight.Do("probe", func() (any, error) {
		return m.probeIfDue(ctx), nil
	})
	return v.(bool)
}

// probeIfDue runs one probe unless the circuit is cooling down. A caller
// that passed the cooldown check while another probe was re-opening the
// circuit is refused here.
func (m *HealthMonitor) probeIfDue(ctx context.Context) bool {
	if m.coolingDown() {
		return false
	}
	return m.runProbe(ctx)
}

func (m *HealthMonitor) coolingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CircuitOpen && m.clock.Now().Sub(m.state.LastCheckTime) < m.cfg.Cooldown
}

// HalfOpen reports whether the circuit is open but its cooldown has
// elapsed, so the next IsHealthy call will probe.
func (m *HealthMonitor) HalfOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CircuitOpen && m.clock.Now().Sub(m.state.LastCheckTime) >= m.cfg.Cooldown
}

// Status returns a snapshot of the current state.
func (m *HealthMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ForceOpen opens the circuit regardless of probe results.
func (m *HealthMonitor) ForceOpen() {
	m.mu.Lock()
	m.state.IsHealthy = false
	m.state.CircuitOpen = true
	m.state.LastCheckTime = m.clock.Now()
	st := m.state
	m.mu.Unlock()

	m.logger.Warn("remote store circuit forced open")
	metrics.UpdateBreakerState(st.CircuitOpen, st.ConsecutiveFailures)
}

// ForceClose closes the circuit and clears the failure count.
func (m *HealthMonitor) ForceClose() {
	m.mu.Lock()
	m.state = Status{IsHealthy: true, LastCheckTime: m.clock.Now()}
	m.mu.Unlock()

	m.logger.Warn("remote store circuit forced closed")
	metrics.UpdateBreakerState(false, 0)
}

func (m *HealthMonitor) runProbe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.probe.Ping(pctx)
	metrics.RecordProbe(err == nil, time.Since(start))

	m.mu.Lock()
	prev := m.state
	now := m.clock.Now()
	if err == nil {
		m.state = Status{IsHealthy: true, LastCheckTime: now}
	} else {
		m.state.IsHealthy = false
		m.state.ConsecutiveFailures++
		if m.state.ConsecutiveFailures >= m.cfg.FailureThreshold {
			m.state.CircuitOpen = true
		}
		m.state.LastCheckTime = now
	}
	st := m.state
	m.mu.Unlock()

	metrics.UpdateBreakerState(st.CircuitOpen, st.ConsecutiveFailures)
	switch {
	case st.CircuitOpen && !prev.CircuitOpen:
		m.logger.Warn("remote store circuit opened",
			slog.Int("consecutive_failures", st.ConsecutiveFailures),
			slog.Duration("cooldown", m.cfg.Cooldown),
			slog.Any("error", err))
	case !st.CircuitOpen && prev.CircuitOpen:
		m.logger.Info("remote store circuit closed")
	case err != nil:
		m.logger.Debug("remote store probe failed",
			slog.Int("consecutive_failures", st.ConsecutiveFailures),
			slog.Any("error", err))
	}
	return err == nil
}

// Start launches the background probe. It is a no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.IsHealthy(ctx)
			}
		}
	}(m.done)
}

// Stop halts the background probe and waits for it to exit.
// Safe to call when not started.
func (m *HealthMonitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
