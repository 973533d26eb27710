package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/pkg/ratelimit"
)

type stubMonitor struct {
	mu      sync.Mutex
	healthy []bool
	checks  int
}

func healthyMonitor() *stubMonitor { return &stubMonitor{} }

// IsHealthy returns the queued answers in order, then true.
func (m *stubMonitor) IsHealthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if len(m.healthy) == 0 {
		return true
	}
	h := m.healthy[0]
	m.healthy = m.healthy[1:]
	return h
}

func (m *stubMonitor) Status() circuitbreaker.Status {
	return circuitbreaker.Status{CircuitOpen: true, ConsecutiveFailures: 3}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestCaller(m Monitor, rec *sleepRecorder, opts ...Option) *Caller {
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return NewCaller(m, opts...)
}

func TestDo_Success(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)

	calls := 0
	v, err := Do(context.Background(), c, "session.get", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_BackoffScheduleThenConnectionError(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)
	cause := &entity.ConnectionError{Op: "list", Err: errors.New("network unreachable")}

	calls := 0
	_, err := DoWith(context.Background(), c, "session.list",
		Policy{Attempts: 3, BaseDelay: 1000 * time.Millisecond, Multiplier: 2},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, cause
		})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}, rec.delays)

	var connErr *entity.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, entity.ErrConnection)
}

func TestDo_RawNetworkErrorWrappedOnLastAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)
	cause := fmt.Errorf("dial: %w", syscall.ECONNREFUSED)

	_, err := Do(context.Background(), c, "session.get", func(ctx context.Context) (int, error) {
		return 0, cause
	})

	var connErr *entity.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "session.get", connErr.Op)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Len(t, rec.delays, 2)
}

func TestDo_DefinitionalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"conflict", &entity.ConflictError{Resource: "session", ID: "s1"}},
		{"validation", &entity.ValidationError{Field: "providerId", Message: "required"}},
		{"not found", &entity.NotFoundError{Resource: "session", ID: "s1"}},
		{"unauthorized", fmt.Errorf("update: %w", entity.ErrUnauthorized)},
		{"bad query", fmt.Errorf("list: %w", entity.ErrBadQuery)},
		{"unclassified", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &sleepRecorder{}
			c := newTestCaller(healthyMonitor(), rec)

			calls := 0
			_, err := Do(context.Background(), c, "session.create", func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})

			assert.Same(t, tt.err, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)

	calls := 0
	v, err := Do(context.Background(), c, "session.get", func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, &entity.ConnectionError{Reason: "reset"}
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestDo_CircuitOpenFailsFast(t *testing.T) {
	rec := &sleepRecorder{}
	m := &stubMonitor{healthy: []bool{false}}
	c := newTestCaller(m, rec)

	calls := 0
	_, err := Do(context.Background(), c, "session.get", func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})

	assert.Zero(t, calls)
	assert.ErrorIs(t, err, entity.ErrCircuitOpen)
	assert.ErrorIs(t, err, entity.ErrConnection)
	assert.Contains(t, err.Error(), "circuit breaker: OPEN, failures: 3")
	assert.Empty(t, rec.delays)
}

func TestDo_CircuitOpensBetweenAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	m := &stubMonitor{healthy: []bool{true, false}}
	c := newTestCaller(m, rec)

	calls := 0
	_, err := Do(context.Background(), c, "session.get", func(ctx context.Context) (int, error) {
		calls++
		return 0, &entity.ConnectionError{Reason: "reset"}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, entity.ErrCircuitOpen)
	assert.Equal(t, 2, m.checks)
}

func TestDo_AttemptTimeout(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)

	_, err := DoWith(context.Background(), c, "session.get",
		Policy{Attempts: 2, BaseDelay: time.Millisecond, CallTimeout: 10 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

	assert.ErrorIs(t, err, entity.ErrTimeout)
	var connErr *entity.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "timeout", connErr.Reason)
	assert.Len(t, rec.delays, 1)
}

func TestDo_AttemptTimeoutWhenOperationIgnoresContext(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)
	release := make(chan struct{})
	defer close(release)

	_, err := DoWith(context.Background(), c, "session.get",
		Policy{Attempts: 1, CallTimeout: 10 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})

	assert.ErrorIs(t, err, entity.ErrTimeout)
}

func TestDo_ParentCancellationNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	c := newTestCaller(healthyMonitor(), rec)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, c, "session.get", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestThrottle_PerActor(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewOperationLimiter(ratelimit.Config{Clock: clock})
	c := newTestCaller(healthyMonitor(), &sleepRecorder{}, WithLimiter(limiter, map[string]ratelimit.Limit{
		OpSessionCreate: {MaxAttempts: 2, Window: time.Minute},
	}))
	ctx := context.Background()

	require.NoError(t, c.Throttle(ctx, OpSessionCreate, "p1:c1"))
	require.NoError(t, c.Throttle(ctx, OpSessionCreate, "p1:c1"))
	err := c.Throttle(ctx, OpSessionCreate, "p1:c1")

	var rlErr *entity.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, OpSessionCreate, rlErr.Operation)
	assert.Equal(t, time.Minute, rlErr.RetryAfter)

	assert.NoError(t, c.Throttle(ctx, OpSessionCreate, "p2:c1"), "other actors have their own window")
	assert.NoError(t, c.Throttle(ctx, OpSessionGet, "p1:c1"), "unlisted operations are not throttled")
}

func TestThrottle_NoLimiter(t *testing.T) {
	c := newTestCaller(healthyMonitor(), &sleepRecorder{})
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Throttle(context.Background(), OpBookingAccept, "p1"))
	}
}

func TestDo_NeverThrottles(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewOperationLimiter(ratelimit.Config{Clock: clock})
	c := newTestCaller(healthyMonitor(), &sleepRecorder{}, WithLimiter(limiter, DefaultLimits()))

	calls := 0
	for i := 0; i < 25; i++ {
		err := Exec(context.Background(), c, OpBookingAccept, func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err, "write %d", i+1)
	}
	assert.Equal(t, 25, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", &entity.ConnectionError{}, true},
		{"timeout", fmt.Errorf("get: %w", entity.ErrTimeout), true},
		{"circuit open", &entity.ConnectionError{Err: entity.ErrCircuitOpen}, false},
		{"canceled", context.Canceled, false},
		{"caller deadline", context.DeadlineExceeded, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conflict", &entity.ConflictError{}, false},
		{"not found", &entity.NotFoundError{}, false},
		{"rate limited", &entity.RateLimitError{}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	conn := &entity.ConnectionError{Op: "x"}
	assert.Same(t, conn, Classify("session.get", conn))

	plain := errors.New("boom")
	assert.Same(t, plain, Classify("session.get", plain))

	assert.NoError(t, Classify("session.get", nil))

	wrapped := Classify("session.get", fmt.Errorf("dial: %w", syscall.ENETUNREACH))
	var connErr *entity.ConnectionError
	require.ErrorAs(t, wrapped, &connErr)
	assert.Equal(t, "retries exhausted", connErr.Reason)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "circuit_open", Outcome(&entity.ConnectionError{Err: entity.ErrCircuitOpen}))
	assert.Equal(t, "rate_limited", Outcome(&entity.RateLimitError{}))
	assert.Equal(t, "timeout", Outcome(&entity.ConnectionError{Err: entity.ErrTimeout}))
	assert.Equal(t, "connection_error", Outcome(&entity.ConnectionError{}))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{}.normalized()

	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 10*time.Second, p.CallTimeout)
	assert.Equal(t, 1, WriteOncePolicy().Attempts)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
