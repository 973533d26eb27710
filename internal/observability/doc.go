// Package observability provides the logging, metrics and tracing
// infrastructure shared by the worker and its provider API.
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry spans for remote calls and HTTP requests
//
// Example usage:
//
//	import (
//	    "marketplace-core/internal/observability/logging"
//	    "marketplace-core/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("worker started")
//
//	    metrics.RecordBookingResolved("accepted", true)
//	}
package observability
