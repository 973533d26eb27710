// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Key features:
//   - JSON and text output formats
//   - Booking ID propagation
//   - Context-aware logging
//   - Configurable log levels
//
// Example usage:
//
//	import "marketplace-core/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("application started", slog.String("version", "1.0"))
//	}
//
//	func handleBooking(ctx context.Context, id string) {
//	    ctx = logging.ContextWithBookingID(ctx, id)
//	    logger := logging.WithBookingID(ctx, slog.Default())
//	    logger.Info("booking received")
//	}
package logging
