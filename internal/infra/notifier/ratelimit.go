package notifier

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a send would wait longer than the limiter's
// maximum wait.
var ErrThrottled = errors.New("push throttled")

// RateLimiter is a token bucket shared by all pushes of a process.
// It keeps repeating alert chimes within the FCM send quota.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	maxWait time.Duration
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained and
// burst immediate requests. maxWait <= 0 waits as long as ctx allows.
//
// Example:
//
//	limiter := NewRateLimiter(5, 10, 2*time.Second)
func NewRateLimiter(requestsPerSecond float64, burst int, maxWait time.Duration) *RateLimiter {
	r := rate.Limit(requestsPerSecond)
	return &RateLimiter{
		rate:    r,
		burst:   burst,
		maxWait: maxWait,
		limiter: rate.NewLimiter(r, burst),
	}
}

// Allow blocks until a token is available. It returns ErrThrottled without
// waiting when the token is further away than maxWait: a chime delayed past
// its slot is worth less than the next one. ctx cancellation returns the
// reserved token.
func (r *RateLimiter) Allow(ctx context.Context) error {
	if r.maxWait <= 0 {
		return r.limiter.Wait(ctx)
	}

	res := r.limiter.Reserve()
	if !res.OK() {
		return ErrThrottled
	}
	delay := res.Delay()
	if delay > r.maxWait {
		res.Cancel()
		return ErrThrottled
	}
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}
