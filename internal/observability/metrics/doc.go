// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - Remote store health (circuit state, probe results)
//   - Resilient call outcomes, durations and retries
//   - Business metrics (booking resolutions, session corrections, alerts)
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "marketplace-core/internal/observability/metrics"
//
//	func expire(status string, err error) {
//	    metrics.RecordBookingResolved(status, err == nil)
//	}
package metrics
