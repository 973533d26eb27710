package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockClock implements Clock interface for testing
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestLimiter(clock Clock) *OperationLimiter {
	return NewOperationLimiter(Config{
		Store: NewInMemoryWindowStore(InMemoryStoreConfig{Clock: clock}),
		Clock: clock,
	})
}

func TestOperationLimiter_Windowing(t *testing.T) {
	// Arrange
	ctx := context.Background()
	clock := NewMockClock(epoch)
	l := newTestLimiter(clock)

	// Act & Assert: calls 1-5 allowed, 6 denied
	for i := 1; i <= 5; i++ {
		assert.True(t, l.Allow(ctx, "login", 5, time.Minute), "call %d", i)
		clock.Advance(time.Second)
	}
	assert.False(t, l.Allow(ctx, "login", 5, time.Minute))

	// After the window elapses from the first call, a fresh window starts.
	clock.Set(epoch.Add(time.Minute))
	d := l.Check(ctx, "login", 5, time.Minute)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, epoch.Add(2*time.Minute), d.ResetAt)
}

func TestOperationLimiter_DeniedDoesNotCount(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(epoch)
	store := NewInMemoryWindowStore(InMemoryStoreConfig{Clock: clock})
	l := NewOperationLimiter(Config{Store: store, Clock: clock})

	require.True(t, l.Allow(ctx, "signup", 1, time.Minute))
	for i := 0; i < 3; i++ {
		require.False(t, l.Allow(ctx, "signup", 1, time.Minute))
	}

	w, ok, err := store.Peek(ctx, "signup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, w.Count)
}

func TestOperationLimiter_OperationsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(NewMockClock(epoch))

	require.True(t, l.Allow(ctx, "login", 1, time.Minute))
	assert.False(t, l.Allow(ctx, "login", 1, time.Minute))
	assert.True(t, l.Allow(ctx, "booking.accept", 1, time.Minute))
}

func TestOperationLimiter_CheckKeyPerActor(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(epoch)
	store := NewInMemoryWindowStore(InMemoryStoreConfig{Clock: clock})
	l := NewOperationLimiter(Config{Store: store, Clock: clock})

	require.True(t, l.CheckKey(ctx, "booking.accept", "prov-1", 1, time.Minute).Allowed)
	denied := l.CheckKey(ctx, "booking.accept", "prov-1", 1, time.Minute)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "booking.accept", denied.Operation)

	assert.True(t, l.CheckKey(ctx, "booking.accept", "prov-2", 1, time.Minute).Allowed)
	assert.True(t, l.Allow(ctx, "booking.accept", 1, time.Minute), "the bare operation window is separate")

	_, ok, err := store.Peek(ctx, "booking.accept:prov-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindowKey(t *testing.T) {
	assert.Equal(t, "login", WindowKey("login", ""))
	assert.Equal(t, "session.create:p1:c1", WindowKey("session.create", "p1:c1"))
}

func TestOperationLimiter_DeniedDecision(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(epoch)
	l := newTestLimiter(clock)

	require.True(t, l.Allow(ctx, "login", 1, 5*time.Minute))
	clock.Advance(30 * time.Second)

	d := l.Check(ctx, "login", 1, 5*time.Minute)
	assert.True(t, d.IsDenied())
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 270*time.Second, d.RetryAfter)
	assert.Equal(t, int64(270), d.RetryAfterSeconds())
	assert.Equal(t, "Too many login attempts. Please wait 5 minutes.", d.Message())
}

func TestOperationLimiter_TimeUntilReset(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(epoch)
	l := newTestLimiter(clock)

	assert.Zero(t, l.TimeUntilReset(ctx, "login"))

	l.Allow(ctx, "login", 5, time.Minute)
	clock.Advance(15 * time.Second)
	assert.Equal(t, 45*time.Second, l.TimeUntilReset(ctx, "login"))

	clock.Advance(time.Hour)
	assert.Zero(t, l.TimeUntilReset(ctx, "login"))
}

func TestOperationLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(NewMockClock(epoch))

	l.Allow(ctx, "a", 1, time.Minute)
	l.Allow(ctx, "b", 1, time.Minute)

	require.NoError(t, l.Reset(ctx, "a"))
	assert.True(t, l.Allow(ctx, "a", 1, time.Minute))
	assert.False(t, l.Allow(ctx, "b", 1, time.Minute))

	require.NoError(t, l.ResetAll(ctx))
	assert.True(t, l.Allow(ctx, "b", 1, time.Minute))
}

type failingStore struct {
	InMemoryWindowStore
	calls int
}

func (s *failingStore) Hit(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Window, bool, error) {
	s.calls++
	return Window{}, false, errors.New("connection refused")
}

func TestOperationLimiter_FailOpen(t *testing.T) {
	// Arrange
	ctx := context.Background()
	clock := NewMockClock(epoch)
	store := &failingStore{}
	l := NewOperationLimiter(Config{
		Store: store,
		Clock: clock,
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Minute,
			Clock:            clock,
		}),
	})

	// Act & Assert: store failures allow the attempt
	for i := 0; i < 4; i++ {
		assert.True(t, l.Allow(ctx, "login", 1, time.Minute))
	}
	// Breaker opened after two failures, store no longer consulted.
	assert.Equal(t, 2, store.calls)

	clock.Advance(time.Minute)
	assert.True(t, l.Allow(ctx, "login", 1, time.Minute))
	assert.Equal(t, 3, store.calls)
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestFormatWait(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "a moment"},
		{time.Second, "1 second"},
		{30 * time.Second, "30 seconds"},
		{59500 * time.Millisecond, "60 seconds"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "2 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatWait(tt.in))
		})
	}
}
