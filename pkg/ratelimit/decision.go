package ratelimit

import (
	"fmt"
	"time"
)

// Decision represents the result of a rate limit check.
type Decision struct {
	// Operation is the rate limited operation name.
	Operation string

	// Allowed indicates whether the attempt is permitted.
	Allowed bool

	// Limit is the maximum number of attempts allowed in the window.
	Limit int

	// Remaining is the number of attempts left in the current window.
	Remaining int

	// ResetAt is the time when the window resets.
	ResetAt time.Time

	// RetryAfter is how long to wait before the window resets.
	// Zero when the attempt was allowed.
	RetryAfter time.Duration
}

// String returns a human-readable representation of the decision.
func (d *Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf(
			"Decision{Allowed: true, Operation: %s, Remaining: %d/%d, ResetAt: %s}",
			d.Operation,
			d.Remaining,
			d.Limit,
			d.ResetAt.Format(time.RFC3339),
		)
	}

	return fmt.Sprintf(
		"Decision{Allowed: false, Operation: %s, Limit: %d, RetryAfter: %s, ResetAt: %s}",
		d.Operation,
		d.Limit,
		d.RetryAfter.String(),
		d.ResetAt.Format(time.RFC3339),
	)
}

// IsDenied returns true if the attempt is denied.
func (d *Decision) IsDenied() bool {
	return !d.Allowed
}

// RetryAfterSeconds returns the retry delay in whole seconds, rounded up.
func (d *Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64((d.RetryAfter + time.Second - 1) / time.Second)
}

// Message returns the user-facing wait message for a denied attempt.
func (d *Decision) Message() string {
	if d.Allowed {
		return ""
	}
	return fmt.Sprintf("Too many %s attempts. Please wait %s.", d.Operation, FormatWait(d.RetryAfter))
}

// newDecision builds a decision for a window observed at now.
func newDecision(operation string, allowed bool, limit int, w Window, now time.Time) *Decision {
	remaining := limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	d := &Decision{
		Operation: operation,
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
	}
	if !allowed {
		d.RetryAfter = timeUntil(w.ResetAt, now)
	}
	return d
}

func timeUntil(t, now time.Time) time.Duration {
	if d := t.Sub(now); d > 0 {
		return d
	}
	return 0
}

// FormatWait renders a wait duration for users: "N seconds" below one
// minute, otherwise "N minutes" rounded up.
func FormatWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	if d < time.Minute {
		secs := int64((d + time.Second - 1) / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int64((d + time.Minute - 1) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
