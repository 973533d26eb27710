// Package tracing provides OpenTelemetry tracing integration.
//
// Remote store calls are wrapped in client spans by StartCall/EndCall, and
// the provider API and health endpoints are wrapped by Middleware.
// Spans go to whatever TracerProvider is installed globally; without one
// they are no-ops.
//
// Example usage:
//
//	import "marketplace-core/internal/observability/tracing"
//
//	func get(ctx context.Context) error {
//	    ctx, span := tracing.StartCall(ctx, "session.get")
//	    err := doGet(ctx)
//	    tracing.EndCall(span, "success", 1, err)
//	    return err
//	}
package tracing
