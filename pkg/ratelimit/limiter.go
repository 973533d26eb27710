package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limit is a per-operation attempt budget.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// Config holds the dependencies of an OperationLimiter.
type Config struct {
	// Store holds the windows.
	// Default: InMemoryWindowStore
	Store WindowStore

	// Clock provides time abstraction for testing.
	// Default: SystemClock
	Clock Clock

	// Metrics records decisions.
	// Default: NoOpMetrics
	Metrics RateLimitMetrics

	// Breaker guards the store. Default: a breaker sharing Clock and Metrics.
	Breaker *CircuitBreaker

	// Logger receives fail-open warnings.
	// Default: slog.Default()
	Logger *slog.Logger
}

// OperationLimiter counts attempts per operation name in fixed windows.
//
// A denied attempt never increments the count. Store failures fail open:
// the attempt is allowed and the failure logged.
type OperationLimiter struct {
	store   WindowStore
	clock   Clock
	metrics RateLimitMetrics
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewOperationLimiter creates a limiter from config, filling defaults.
func NewOperationLimiter(config Config) *OperationLimiter {
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}
	if config.Store == nil {
		config.Store = NewInMemoryWindowStore(InMemoryStoreConfig{Clock: config.Clock})
	}
	if config.Metrics == nil {
		config.Metrics = &NoOpMetrics{}
	}
	if config.Breaker == nil {
		config.Breaker = NewCircuitBreaker(CircuitBreakerConfig{
			Clock:   config.Clock,
			Metrics: config.Metrics,
		})
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &OperationLimiter{
		store:   config.Store,
		clock:   config.Clock,
		metrics: config.Metrics,
		breaker: config.Breaker,
		logger:  config.Logger,
	}
}

var (
	defaultLimiter     *OperationLimiter
	defaultLimiterOnce sync.Once
)

// Default returns the process-wide limiter, created in memory on first use.
func Default() *OperationLimiter {
	defaultLimiterOnce.Do(func() {
		defaultLimiter = NewOperationLimiter(Config{})
	})
	return defaultLimiter
}

// Allow reports whether one more attempt of operation fits in its window,
// recording the attempt when it does.
func (l *OperationLimiter) Allow(ctx context.Context, operation string, maxAttempts int, window time.Duration) bool {
	return l.Check(ctx, operation, maxAttempts, window).Allowed
}

// AllowLimit is Allow with a Limit value.
func (l *OperationLimiter) AllowLimit(ctx context.Context, operation string, limit Limit) bool {
	return l.Allow(ctx, operation, limit.MaxAttempts, limit.Window)
}

// Check applies one attempt and returns the full decision.
func (l *OperationLimiter) Check(ctx context.Context, operation string, maxAttempts int, window time.Duration) *Decision {
	return l.CheckKey(ctx, operation, "", maxAttempts, window)
}

// CheckKey is Check with a separate window per actor of operation, such as
// one provider. Metrics stay labelled by operation alone.
func (l *OperationLimiter) CheckKey(ctx context.Context, operation, actor string, maxAttempts int, window time.Duration) *Decision {
	now := l.clock.Now()
	start := time.Now()
	key := WindowKey(operation, actor)

	var (
		w       Window
		allowed bool
	)
	ran, err := l.breaker.Execute(func() error {
		var hitErr error
		w, allowed, hitErr = l.store.Hit(ctx, key, maxAttempts, window, now)
		return hitErr
	})
	l.metrics.RecordCheckDuration(operation, time.Since(start))

	if err != nil || !ran {
		if err != nil {
			l.metrics.RecordStoreError(operation)
			l.logger.Warn("rate limit store failed, allowing attempt",
				slog.String("operation", operation),
				slog.Any("error", err))
		}
		l.metrics.RecordAllowed(operation)
		return &Decision{
			Operation: operation,
			Allowed:   true,
			Limit:     maxAttempts,
			Remaining: maxAttempts,
			ResetAt:   now.Add(window),
		}
	}

	if allowed {
		l.metrics.RecordAllowed(operation)
	} else {
		l.metrics.RecordDenied(operation)
	}
	return newDecision(operation, allowed, maxAttempts, w, now)
}

// WindowKey is the store key of operation's window for actor.
func WindowKey(operation, actor string) string {
	if actor == "" {
		return operation
	}
	return operation + ":" + actor
}

// TimeUntilReset returns max(0, resetAt-now) for operation's window, or
// zero when no window exists.
func (l *OperationLimiter) TimeUntilReset(ctx context.Context, operation string) time.Duration {
	w, ok, err := l.store.Peek(ctx, operation)
	if err != nil {
		l.logger.Warn("rate limit store peek failed",
			slog.String("operation", operation),
			slog.Any("error", err))
		return 0
	}
	if !ok {
		return 0
	}
	return timeUntil(w.ResetAt, l.clock.Now())
}

// Reset clears operation's window. Intended for tests and operator tools.
func (l *OperationLimiter) Reset(ctx context.Context, operation string) error {
	return l.store.Reset(ctx, operation)
}

// ResetAll clears every window. Intended for tests and operator tools.
func (l *OperationLimiter) ResetAll(ctx context.Context) error {
	return l.store.ResetAll(ctx)
}

// ReportActiveKeys publishes the live window count to metrics.
func (l *OperationLimiter) ReportActiveKeys(ctx context.Context) {
	n, err := l.store.KeyCount(ctx)
	if err != nil {
		return
	}
	l.metrics.SetActiveKeys(n)
}
