// Package resilience groups the fault tolerance layer between use cases and
// the remote document store.
//
// The subpackages are:
//   - circuitbreaker: HealthMonitor, a probe-driven breaker for the remote
//     store, and a gobreaker wrapper for push delivery
//   - retry: Caller, the single path to the remote store, with health
//     gating, timeouts and exponential backoff, plus per-actor throttling
//     of user actions
//
// Usage Example:
//
//	monitor := circuitbreaker.NewHealthMonitor(circuitbreaker.ProbeFunc(store.Ping), cfg)
//	monitor.Start(ctx)
//	defer monitor.Stop()
//
//	caller := retry.NewCaller(monitor, retry.WithLimiter(ratelimit.Default(), retry.DefaultLimits()))
//	session, err := retry.Do(ctx, caller, retry.OpSessionGet, func(ctx context.Context) (*entity.ChatSession, error) {
//	    return getSession(ctx, id)
//	})
package resilience
