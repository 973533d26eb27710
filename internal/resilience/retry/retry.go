// Package retry is the single path from use cases to the remote store.
//
// Every call is gated by the health monitor, raced against a timeout, and
// retried with exponential backoff when the failure is a transient
// connectivity failure. Definitional failures (validation, conflict, not
// found, unauthorized, bad query) pass through unchanged on first
// occurrence. User actions are throttled separately, per actor, through
// Caller.Throttle.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/metrics"
	"marketplace-core/internal/observability/tracing"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/pkg/ratelimit"
)

// Policy holds the retry schedule of a call.
type Policy struct {
	// Attempts is the total number of attempts, including the first
	Attempts int

	// BaseDelay is the wait before the first retry
	BaseDelay time.Duration

	// Multiplier scales the delay after each retry
	Multiplier float64

	// CallTimeout bounds a single attempt
	CallTimeout time.Duration
}

// DefaultPolicy returns 3 attempts with 1s then 2s between them and a 10s
// timeout per attempt.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		CallTimeout: 10 * time.Second,
	}
}

// WriteOncePolicy is for best-effort writes that must not hold a caller
// back: a single attempt, no backoff.
func WriteOncePolicy() Policy {
	p := DefaultPolicy()
	p.Attempts = 1
	return p
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = def.CallTimeout
	}
	return p
}

// Monitor is the health view consulted before every attempt.
type Monitor interface {
	IsHealthy(ctx context.Context) bool
	Status() circuitbreaker.Status
}

// Limiter counts attempts per operation and actor.
type Limiter interface {
	CheckKey(ctx context.Context, operation, actor string, maxAttempts int, window time.Duration) *ratelimit.Decision
}

// Operation names used for limits, metrics and spans.
const (
	OpSessionCreate = "session.create"
	OpSessionGet    = "session.get"
	OpSessionList   = "session.list"
	OpSessionUpdate = "session.update"
	OpSessionClose  = "session.close"
	OpBookingAccept = "booking.accept"
	OpBookingReject = "booking.reject"
	OpBookingExpire = "booking.expire"
)

// DefaultLimits returns the throttles for user-triggered operations. Each
// actor gets its own window; see Caller.Throttle.
func DefaultLimits() map[string]ratelimit.Limit {
	return map[string]ratelimit.Limit{
		OpSessionCreate: {MaxAttempts: 5, Window: time.Minute},
		OpBookingAccept: {MaxAttempts: 10, Window: time.Minute},
		OpBookingReject: {MaxAttempts: 10, Window: time.Minute},
	}
}

// Caller runs remote operations through the health monitor and retry
// schedule, and throttles user actions before they start. It holds no
// mutable state of its own.
type Caller struct {
	monitor Monitor
	limiter Limiter
	limits  map[string]ratelimit.Limit
	policy  Policy
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithPolicy sets the default retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Caller) { c.policy = p.normalized() }
}

// WithLimiter sets the limiter and budgets used by Throttle.
func WithLimiter(l Limiter, limits map[string]ratelimit.Limit) Option {
	return func(c *Caller) {
		c.limiter = l
		c.limits = limits
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Caller) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) { c.logger = l }
}

// NewCaller creates a Caller gated by monitor.
func NewCaller(monitor Monitor, opts ...Option) *Caller {
	c := &Caller{
		monitor: monitor,
		policy:  DefaultPolicy(),
		sleep:   sleepContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the caller's default policy.
func (c *Caller) Policy() Policy {
	return c.policy
}

// Do runs fn under the caller's default policy.
func Do[T any](ctx context.Context, c *Caller, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoWith(ctx, c, operation, c.policy, fn)
}

// Exec is Do for operations without a result.
func Exec(ctx context.Context, c *Caller, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, c, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWith runs fn under policy p.
//
// Returns a *entity.ConnectionError wrapping entity.ErrCircuitOpen when the
// monitor refuses the call and a *entity.ConnectionError after the last
// connectivity failure. Any other error is returned unchanged. DoWith never
// throttles: a write that must reach the store always gets its attempts.
func DoWith[T any](ctx context.Context, c *Caller, operation string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.normalized()
	start := time.Now()
	ctx, span := tracing.StartCall(ctx, operation)

	attempts := 0
	finish := func(err error) {
		outcome := Outcome(err)
		metrics.RecordRemoteCall(operation, outcome, time.Since(start))
		tracing.EndCall(span, outcome, attempts, err)
	}

	delay := p.BaseDelay
	for remaining := p.Attempts; ; remaining-- {
		if !c.monitor.IsHealthy(ctx) {
			err := &entity.ConnectionError{
				Op:     operation,
				Reason: c.monitor.Status().Diagnostic(),
				Err:    entity.ErrCircuitOpen,
			}
			finish(err)
			return zero, err
		}

		attempts++
		v, err := attempt(ctx, operation, p.CallTimeout, fn)
		if err == nil {
			if attempts > 1 {
				c.logger.Info("remote call succeeded after retry",
					slog.String("operation", operation),
					slog.Int("attempt", attempts))
			}
			finish(nil)
			return v, nil
		}

		if !IsRetryable(err) {
			finish(err)
			return zero, err
		}

		if remaining <= 1 {
			err = Classify(operation, err)
			c.logger.Warn("remote call failed",
				slog.String("operation", operation),
				slog.Int("attempts", attempts),
				slog.Any("error", err))
			finish(err)
			return zero, err
		}

		c.logger.Warn("remote call failed, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", p.Attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		metrics.RecordRetry(operation)

		if serr := c.sleep(ctx, delay); serr != nil {
			err = fmt.Errorf("retry aborted: %w", serr)
			finish(err)
			return zero, err
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
}

// Throttle records one attempt of operation by actor and returns a
// *entity.RateLimitError when the actor's window is full. Operations
// without a configured limit are never throttled. Callers check it before
// changing any state.
func (c *Caller) Throttle(ctx context.Context, operation, actor string) error {
	if c == nil || c.limiter == nil {
		return nil
	}
	limit, ok := c.limits[operation]
	if !ok {
		return nil
	}
	d := c.limiter.CheckKey(ctx, operation, actor, limit.MaxAttempts, limit.Window)
	if d.Allowed {
		return nil
	}
	return &entity.RateLimitError{Operation: operation, RetryAfter: d.RetryAfter}
}

type result[T any] struct {
	v   T
	err error
}

// attempt races fn against timeout. A parent cancellation is returned as
// the context error; the attempt's own deadline becomes entity.ErrTimeout.
func attempt[T any](ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(actx)
		ch <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s after %s: %w", operation, timeout, entity.ErrTimeout)
		}
		return r.v, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%s after %s: %w", operation, timeout, entity.ErrTimeout)
	}
}

// IsRetryable reports whether err is a transient connectivity failure.
// Circuit-open refusals are not retried: the monitor has already decided.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, entity.ErrCircuitOpen) {
		return false
	}

	if entity.IsTerminalFailure(err) {
		return false
	}

	if entity.IsConnection(err) {
		return true
	}

	// the caller's own deadline, not the store's
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// Classify turns the final failure of operation into the error surfaced to
// callers: connectivity failures become *entity.ConnectionError, anything
// else is returned unchanged.
func Classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *entity.ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	if !IsRetryable(err) {
		return err
	}
	reason := "retries exhausted"
	if errors.Is(err, entity.ErrTimeout) {
		reason = "timeout"
	}
	return &entity.ConnectionError{Op: operation, Reason: reason, Err: err}
}

// Outcome maps a call result to its metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, entity.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, entity.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, entity.ErrTimeout):
		return "timeout"
	case errors.Is(err, entity.ErrConnection):
		return "connection_error"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
