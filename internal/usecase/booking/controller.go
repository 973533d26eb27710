// Package booking drives the provider-response countdown of booking
// requests.
//
// A Controller owns one booking: it ticks the remaining seconds, keeps the
// persistent alert running while the booking is pending, and issues exactly
// one terminal write (accepted, rejected or expired). The Dispatcher turns
// incoming booking events into controllers.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/metrics"
	"marketplace-core/internal/repository"
	"marketplace-core/internal/resilience/retry"
)

// DefaultTick is the countdown refresh interval.
const DefaultTick = time.Second

// Alert is the persistent alert sounded while a booking is pending.
type Alert interface {
	Start(ctx context.Context)
	Stop()
}

type noopAlert struct{}

func (noopAlert) Start(context.Context) {}
func (noopAlert) Stop()                 {}

// State is the presentation view of a booking.
type State struct {
	BookingID   string
	Status      entity.BookingStatus
	SecondsLeft int
	RespondedAt *time.Time
}

// Deps are the collaborators shared by all controllers.
type Deps struct {
	Store  repository.DocumentStore
	Caller *retry.Caller

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	// Tick is the countdown interval. Default: DefaultTick
	Tick time.Duration

	// Logger. Default: slog.Default()
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tick <= 0 {
		d.Tick = DefaultTick
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Controller is the response state machine of one booking:
// pending -> accepted | rejected | expired.
//
// Accept, Reject and the auto-expiry race on a single resolved flag checked
// and set under the lock before any remote call, so at most one terminal
// write is ever issued.
type Controller struct {
	booking entity.BookingRequest
	deps    Deps
	alert   Alert
	logger  *slog.Logger

	mu          sync.Mutex
	status      entity.BookingStatus
	secondsLeft int
	respondedAt *time.Time
	resolved    bool
	started     bool
	listeners   []func(State)

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewController creates a controller for b. A nil alert is silent.
func NewController(b entity.BookingRequest, deps Deps, alert Alert) (*Controller, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if alert == nil {
		alert = noopAlert{}
	}
	deps = deps.withDefaults()

	c := &Controller{
		booking: b,
		deps:    deps,
		alert:   alert,
		logger:  deps.Logger.With(slog.String("booking_id", b.ID)),
		status:  b.Status,
		stop:    make(chan struct{}),
	}
	c.secondsLeft = b.SecondsLeft(deps.Now())
	if b.Status.IsTerminal() {
		c.resolved = true
		c.respondedAt = b.RespondedAt
	}
	return c, nil
}

// ID returns the booking id.
func (c *Controller) ID() string {
	return c.booking.ID
}

// OnStatusChange registers fn to receive every status change.
// fn must not call back into the controller.
func (c *Controller) OnStatusChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns a snapshot of the booking.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// SecondsLeft returns the remaining seconds as of the last tick.
func (c *Controller) SecondsLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondsLeft
}

// Status returns the current status.
func (c *Controller) Status() entity.BookingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) stateLocked() State {
	return State{
		BookingID:   c.booking.ID,
		Status:      c.status,
		SecondsLeft: c.secondsLeft,
		RespondedAt: c.respondedAt,
	}
}

// Start sounds the alert and begins the countdown. A booking already past
// its deadline expires on the first tick. Start is a no-op after the first
// call or once the booking is resolved.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.resolved {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	// The countdown and alert outlive the event delivery that started them.
	ctx = context.WithoutCancel(ctx)
	c.alert.Start(ctx)

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.deps.Tick)
	defer ticker.Stop()

	if c.step(ctx, c.deps.Now()) {
		return
	}
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.step(ctx, c.deps.Now()) {
				return
			}
		}
	}
}

// step recomputes the countdown at now and expires the booking when it
// reaches zero. It reports whether the booking is resolved.
func (c *Controller) step(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return true
	}
	c.secondsLeft = c.booking.SecondsLeft(now)
	if c.secondsLeft > 0 {
		c.mu.Unlock()
		return false
	}
	st := c.resolveLocked(entity.BookingExpired, now)
	listeners := c.listeners
	c.mu.Unlock()

	c.halt()
	c.logger.Info("booking expired without response")
	notify(listeners, st)

	if err := c.write(ctx, retry.OpBookingExpire, st); err != nil && !errors.Is(err, entity.ErrNotFound) {
		c.logger.Warn("expiry write failed, booking stays expired locally", slog.Any("error", err))
	}
	return true
}

// Accept records the provider's acceptance. It reports false, with no
// write, when the booking was already resolved or its deadline has passed.
// A provider over its response budget gets a *entity.RateLimitError and the
// booking stays pending.
// The returned error is the terminal write's failure; the booking stays
// accepted locally either way.
func (c *Controller) Accept(ctx context.Context) (bool, error) {
	return c.respond(ctx, entity.BookingAccepted, retry.OpBookingAccept)
}

// Reject records the provider's rejection. See Accept.
func (c *Controller) Reject(ctx context.Context) (bool, error) {
	return c.respond(ctx, entity.BookingRejected, retry.OpBookingReject)
}

func (c *Controller) respond(ctx context.Context, status entity.BookingStatus, op string) (bool, error) {
	if err := c.deps.Caller.Throttle(ctx, op, c.booking.ProviderID); err != nil {
		c.logger.Info("booking response throttled", slog.String("status", string(status)))
		return false, err
	}
	now := c.deps.Now()

	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		c.logger.Debug("booking already resolved, ignoring response", slog.String("status", string(status)))
		return false, nil
	}
	if c.booking.SecondsLeft(now) == 0 {
		c.wg.Add(1)
		c.mu.Unlock()
		defer c.wg.Done()
		c.step(context.WithoutCancel(ctx), now)
		return false, nil
	}
	st := c.resolveLocked(status, now)
	listeners := c.listeners
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.halt()
	c.logger.Info("booking resolved", slog.String("status", string(status)))
	notify(listeners, st)

	if err := c.write(context.WithoutCancel(ctx), op, st); err != nil {
		return true, fmt.Errorf("record %s booking %s: %w", status, c.booking.ID, err)
	}
	return true, nil
}

func (c *Controller) resolveLocked(status entity.BookingStatus, now time.Time) State {
	at := now.UTC()
	c.resolved = true
	c.status = status
	c.respondedAt = &at
	if status == entity.BookingExpired {
		c.secondsLeft = 0
	}
	return c.stateLocked()
}

// write issues the single terminal write for st.
func (c *Controller) write(ctx context.Context, op string, st State) error {
	err := retry.Exec(ctx, c.deps.Caller, op, func(ctx context.Context) error {
		return c.deps.Store.Update(ctx, repository.CollectionBookings, c.booking.ID, map[string]any{
			"status":      st.Status,
			"respondedAt": *st.RespondedAt,
		}, nil)
	})
	metrics.RecordBookingResolved(string(st.Status), err == nil)
	return err
}

// halt stops the countdown and the alert.
func (c *Controller) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.alert.Stop()
}

// Stop stops the countdown and the alert without resolving the booking.
// An in-flight terminal write is not cancelled. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.halt()
}

// Wait blocks until the countdown has exited and any terminal write has
// finished, or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notify(listeners []func(State), st State) {
	for _, fn := range listeners {
		fn(st)
	}
}
