package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryWindowStore is a thread-safe in-memory implementation of WindowStore.
//
// Windows are kept in a map keyed by operation. When MaxKeys is reached,
// expired windows are purged before a new key is admitted; if none are
// expired the window closest to reset is evicted.
type InMemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]Window
	maxKeys int
	clock   Clock

	evictions int
}

// InMemoryStoreConfig holds configuration for InMemoryWindowStore.
type InMemoryStoreConfig struct {
	// MaxKeys is the maximum number of windows kept in memory.
	// Default: 10000
	MaxKeys int

	// Clock is used when purging expired windows.
	// Default: SystemClock
	Clock Clock
}

// DefaultInMemoryStoreConfig returns the default configuration.
func DefaultInMemoryStoreConfig() InMemoryStoreConfig {
	return InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	}
}

// NewInMemoryWindowStore creates a new in-memory window store.
func NewInMemoryWindowStore(config InMemoryStoreConfig) *InMemoryWindowStore {
	if config.MaxKeys <= 0 {
		config.MaxKeys = 10000
	}
	if config.Clock == nil {
		config.Clock = &SystemClock{}
	}

	return &InMemoryWindowStore{
		windows: make(map[string]Window),
		maxKeys: config.MaxKeys,
		clock:   config.Clock,
	}
}

// Hit applies one attempt to the window for key.
func (s *InMemoryWindowStore) Hit(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Window, bool, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists || w.Expired(now) {
		if !exists && len(s.windows) >= s.maxKeys {
			s.evictLocked(now)
		}
		w = Window{Count: 0, ResetAt: now.Add(window)}
	}

	if w.Count >= max {
		s.windows[key] = w
		return w, false, nil
	}

	w.Count++
	s.windows[key] = w
	return w, true, nil
}

// Peek returns the window for key without modifying it.
func (s *InMemoryWindowStore) Peek(ctx context.Context, key string) (Window, bool, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	return w, ok, nil
}

// Reset removes the window for key.
func (s *InMemoryWindowStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, key)
	return nil
}

// ResetAll removes every window.
func (s *InMemoryWindowStore) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows = make(map[string]Window)
	return nil
}

// KeyCount returns the number of stored windows.
func (s *InMemoryWindowStore) KeyCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.windows), nil
}

// Cleanup removes every window that has expired at the store clock's now.
// Returns the number of windows removed.
func (s *InMemoryWindowStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, w := range s.windows {
		if w.Expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Evictions returns the number of live windows evicted to admit new keys.
func (s *InMemoryWindowStore) Evictions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// evictLocked frees one slot. Caller must hold s.mu.
func (s *InMemoryWindowStore) evictLocked(now time.Time) {
	purged := false
	for key, w := range s.windows {
		if w.Expired(now) {
			delete(s.windows, key)
			purged = true
		}
	}
	if purged {
		return
	}

	var victim string
	var earliest time.Time
	for key, w := range s.windows {
		if victim == "" || w.ResetAt.Before(earliest) {
			victim, earliest = key, w.ResetAt
		}
	}
	if victim != "" {
		delete(s.windows, victim)
		s.evictions++
	}
}
