package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the current state of the store circuit breaker.
type CircuitState int

const (
	// StateClosed indicates the circuit is closed and the store is consulted.
	StateClosed CircuitState = iota

	// StateOpen indicates the store failed repeatedly. Attempts are allowed
	// without consulting the store (fail-open).
	StateOpen

	// StateHalfOpen indicates the next attempt tests whether the store recovered.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the store circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive store failures required
	// to open the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is the duration to wait before testing the store again.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock Clock

	// Metrics for recording circuit state changes.
	// Default: NoOpMetrics
	Metrics RateLimitMetrics
}

// CircuitBreaker protects the limiter from a failing WindowStore.
//
// Rate limiting is a local courtesy, not a security boundary, so when the
// store keeps failing the breaker opens and attempts are allowed without
// touching the store until RecoveryTimeout passes.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastStateChange     time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoOpMetrics{}
	}

	cb := &CircuitBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: config.Clock.Now(),
	}
	config.Metrics.RecordCircuitState(cb.state.String())
	return cb
}

// Execute runs operation unless the circuit is open.
//
// Returns ran=false when the circuit is open and operation was skipped.
// Otherwise returns the operation's error after recording the outcome.
func (cb *CircuitBreaker) Execute(operation func() error) (ran bool, err error) {
	cb.attemptRecovery()

	cb.mu.Lock()
	state := cb.state
	cb.mu.Unlock()

	if state == StateOpen {
		return false, nil
	}

	if err := operation(); err != nil {
		cb.recordFailure(state)
		return true, err
	}
	cb.recordSuccess(state)
	return true, nil
}

func (cb *CircuitBreaker) recordSuccess(from CircuitState) {
	cb.mu.Lock()
	cb.consecutiveFailures = 0
	changed := cb.state != StateClosed
	cb.state = StateClosed
	if changed {
		cb.lastStateChange = cb.config.Clock.Now()
	}
	cb.mu.Unlock()

	if changed {
		cb.config.Metrics.RecordCircuitState(StateClosed.String())
		slog.Warn("rate limit store circuit state changed",
			slog.String("previous_state", from.String()),
			slog.String("new_state", StateClosed.String()),
		)
	}
}

func (cb *CircuitBreaker) recordFailure(from CircuitState) {
	cb.mu.Lock()
	cb.consecutiveFailures++
	failures := cb.consecutiveFailures
	open := from == StateHalfOpen || (cb.state == StateClosed && failures >= cb.config.FailureThreshold)
	if open {
		cb.state = StateOpen
		cb.lastStateChange = cb.config.Clock.Now()
	}
	cb.mu.Unlock()

	if open {
		cb.config.Metrics.RecordCircuitState(StateOpen.String())
		slog.Warn("rate limit store circuit state changed",
			slog.String("previous_state", from.String()),
			slog.String("new_state", StateOpen.String()),
			slog.Int("consecutive_failures", failures),
			slog.Duration("recovery_timeout", cb.config.RecoveryTimeout),
		)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.attemptRecovery()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.lastStateChange = cb.config.Clock.Now()
	cb.mu.Unlock()

	cb.config.Metrics.RecordCircuitState(StateClosed.String())
}

// attemptRecovery moves an open circuit to half-open after RecoveryTimeout.
func (cb *CircuitBreaker) attemptRecovery() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return
	}

	now := cb.config.Clock.Now()
	if now.Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
		cb.state = StateHalfOpen
		cb.lastStateChange = now
		cb.config.Metrics.RecordCircuitState(StateHalfOpen.String())
	}
}
