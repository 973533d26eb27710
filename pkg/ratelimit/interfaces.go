// Package ratelimit provides per-operation attempt limiting.
//
// Each operation name (e.g. "login", "session.create") owns one fixed window
// that starts on first use. Attempts inside the window are counted; once the
// count reaches the maximum further attempts are denied without being
// counted, until the window expires and a fresh one starts.
//
// Window state lives behind WindowStore so a single process can use the
// in-memory store while a fleet shares windows through Redis.
package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one operation's rate limit window.
type Window struct {
	// Count is the number of attempts allowed in this window.
	Count int

	// ResetAt is when the window expires. A call at or after ResetAt starts
	// a fresh window.
	ResetAt time.Time
}

// Expired reports whether the window has elapsed at now.
func (w Window) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}

// WindowStore defines the interface for storing rate limit windows.
//
// Implementations can use in-memory storage, Redis, or other backends.
// All methods must be thread-safe.
type WindowStore interface {
	// Hit atomically applies one attempt to the window for key.
	//
	// If no window exists or the window has expired at now, a fresh window
	// ending at now+window is started. If the window count has reached max
	// the attempt is denied and the window is left untouched; otherwise the
	// count is incremented and the attempt allowed.
	//
	// Returns the window after the attempt and whether it was allowed.
	Hit(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Window, bool, error)

	// Peek returns the current window for key without modifying it.
	// ok is false when no window exists.
	Peek(ctx context.Context, key string) (w Window, ok bool, err error)

	// Reset removes the window for key.
	Reset(ctx context.Context, key string) error

	// ResetAll removes every window.
	ResetAll(ctx context.Context) error

	// KeyCount returns the number of windows currently stored.
	KeyCount(ctx context.Context) (int, error)
}

// RateLimitMetrics defines the interface for recording rate limiting metrics.
//
// Implementations can use Prometheus or be no-ops.
type RateLimitMetrics interface {
	// RecordAllowed records an attempt that was allowed.
	RecordAllowed(operation string)

	// RecordDenied records an attempt that was denied.
	RecordDenied(operation string)

	// RecordCheckDuration records the duration of a window store check.
	RecordCheckDuration(operation string, duration time.Duration)

	// RecordStoreError records a window store failure. The attempt is
	// allowed (fail-open) when this happens.
	RecordStoreError(operation string)

	// SetActiveKeys records the number of live windows.
	SetActiveKeys(count int)

	// RecordCircuitState records the store circuit breaker state.
	RecordCircuitState(state string)
}

// Clock provides an abstraction for time operations to enable testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is a Clock implementation that uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}
