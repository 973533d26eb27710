package ratelimit

import "time"

// NoOpMetrics implements the RateLimitMetrics interface with no-op implementations.
//
// This implementation is useful for:
// - Testing environments where metrics are not needed
// - Library callers that do not expose Prometheus
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// RecordAllowed is a no-op implementation.
func (m *NoOpMetrics) RecordAllowed(operation string) {
	// No-op
}

// RecordDenied is a no-op implementation.
func (m *NoOpMetrics) RecordDenied(operation string) {
	// No-op
}

// RecordCheckDuration is a no-op implementation.
func (m *NoOpMetrics) RecordCheckDuration(operation string, duration time.Duration) {
	// No-op
}

// RecordStoreError is a no-op implementation.
func (m *NoOpMetrics) RecordStoreError(operation string) {
	// No-op
}

// SetActiveKeys is a no-op implementation.
func (m *NoOpMetrics) SetActiveKeys(count int) {
	// No-op
}

// RecordCircuitState is a no-op implementation.
func (m *NoOpMetrics) RecordCircuitState(state string) {
	// No-op
}
