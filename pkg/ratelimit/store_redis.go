package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// hitScript applies one attempt to a window hash atomically.
//
// KEYS[1] window key
// ARGV[1] max attempts, ARGV[2] window in ms, ARGV[3] now in unix ms
// Returns {count, resetAtMs, allowed}.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '-1')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
local max = tonumber(ARGV[1])
local now = tonumber(ARGV[3])
if count < 0 or now >= reset then
  count = 0
  reset = now + tonumber(ARGV[2])
end
local allowed = 0
if count < max then
  count = count + 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'count', count, 'reset', reset)
redis.call('PEXPIREAT', KEYS[1], reset)
return {count, reset, allowed}
`)

// RedisClient is the subset of the go-redis client used by RedisWindowStore.
type RedisClient interface {
	redis.Scripter
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisWindowStore keeps windows in Redis hashes so every process sharing
// the Redis instance sees the same counts. Keys expire with their window.
type RedisWindowStore struct {
	client RedisClient
	prefix string
}

// NewRedisWindowStore creates a Redis-backed store. An empty prefix
// defaults to "ratelimit:".
func NewRedisWindowStore(client RedisClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) key(k string) string {
	return s.prefix + k
}

// Hit applies one attempt to the window for key.
func (s *RedisWindowStore) Hit(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Window, bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.key(key)},
		max, window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("redis hit %s: unexpected reply length %d", key, len(res))
	}
	w := Window{Count: int(res[0]), ResetAt: time.UnixMilli(res[1])}
	return w, res[2] == 1, nil
}

// Peek returns the window for key without modifying it.
func (s *RedisWindowStore) Peek(ctx context.Context, key string) (Window, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), "count", "reset").Result()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis peek %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Window{}, false, nil
	}
	count, err := toInt64(vals[0])
	if err != nil {
		return Window{}, false, fmt.Errorf("redis peek %s: count: %w", key, err)
	}
	reset, err := toInt64(vals[1])
	if err != nil {
		return Window{}, false, fmt.Errorf("redis peek %s: reset: %w", key, err)
	}
	return Window{Count: int(count), ResetAt: time.UnixMilli(reset)}, true, nil
}

// Reset removes the window for key.
func (s *RedisWindowStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", key, err)
	}
	return nil
}

// ResetAll removes every window under the store prefix.
func (s *RedisWindowStore) ResetAll(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis reset all: %w", err)
	}
	return nil
}

// KeyCount returns the number of windows under the store prefix.
func (s *RedisWindowStore) KeyCount(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisWindowStore) scan(ctx context.Context) ([]string, error) {
	var (
		all    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		all = append(all, keys...)
		if next == 0 {
			return all, nil
		}
		cursor = next
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case int64:
		return x, nil
	}
	return 0, errors.New("unexpected value type")
}
