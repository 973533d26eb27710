package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/logging"
	"marketplace-core/internal/observability/metrics"
)

// resolvedRetention is how long a resolved booking id is remembered to
// reject duplicate events.
const resolvedRetention = time.Hour

// AlertFactory builds the alert for a new pending booking.
type AlertFactory func(b entity.BookingRequest) Alert

// Dispatcher starts one Controller per new booking event and routes
// provider responses to it by booking id.
type Dispatcher struct {
	deps     Deps
	newAlert AlertFactory
	logger   *slog.Logger

	mu       sync.Mutex
	active   map[string]*Controller
	resolved map[string]resolvedEntry
	closed   bool
}

type resolvedEntry struct {
	at time.Time
	c  *Controller
}

// NewDispatcher creates a dispatcher. A nil newAlert means silent bookings.
func NewDispatcher(deps Deps, newAlert AlertFactory) *Dispatcher {
	deps = deps.withDefaults()
	if newAlert == nil {
		newAlert = func(entity.BookingRequest) Alert { return noopAlert{} }
	}
	return &Dispatcher{
		deps:     deps,
		newAlert: newAlert,
		logger:   deps.Logger,
		active:   make(map[string]*Controller),
		resolved: make(map[string]resolvedEntry),
	}
}

// DecodeEvent parses a booking event payload.
func DecodeEvent(payload []byte) (entity.BookingRequest, error) {
	var b entity.BookingRequest
	if err := json.Unmarshal(payload, &b); err != nil {
		return b, &entity.ValidationError{Field: "payload", Message: err.Error()}
	}
	return b, nil
}

// HandleMessage decodes payload and passes it to HandleEvent.
func (d *Dispatcher) HandleMessage(ctx context.Context, payload []byte) error {
	b, err := DecodeEvent(payload)
	if err != nil {
		metrics.RecordBookingEvent("invalid")
		d.logger.Warn("invalid booking event", slog.Any("error", err))
		return err
	}
	_, err = d.HandleEvent(ctx, b)
	return err
}

// HandleEvent starts a controller for a new booking. A repeated event for
// a booking that is pending or was recently resolved returns the existing
// controller (nil once resolved) without starting another.
func (d *Dispatcher) HandleEvent(ctx context.Context, b entity.BookingRequest) (*Controller, error) {
	ctx = logging.ContextWithBookingID(ctx, b.ID)
	logger := logging.WithBookingID(ctx, d.logger)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("dispatcher is shut down")
	}
	d.pruneLocked(d.deps.Now())
	if c, ok := d.active[b.ID]; ok {
		d.mu.Unlock()
		metrics.RecordBookingEvent("duplicate")
		logger.Debug("duplicate booking event ignored")
		return c, nil
	}
	if _, ok := d.resolved[b.ID]; ok {
		d.mu.Unlock()
		metrics.RecordBookingEvent("duplicate")
		logger.Debug("event for resolved booking ignored")
		return nil, nil
	}

	c, err := NewController(b, d.deps, d.newAlert(b))
	if err != nil {
		d.mu.Unlock()
		metrics.RecordBookingEvent("invalid")
		logger.Warn("invalid booking event", slog.Any("error", err))
		return nil, err
	}
	if b.Status.IsTerminal() {
		d.resolved[b.ID] = resolvedEntry{at: d.deps.Now()}
		d.mu.Unlock()
		metrics.RecordBookingEvent("duplicate")
		return nil, nil
	}
	c.OnStatusChange(func(st State) {
		if st.Status.IsTerminal() {
			d.markResolved(st.BookingID)
		}
	})
	d.active[b.ID] = c
	pending := len(d.active)
	d.mu.Unlock()

	metrics.RecordBookingEvent("started")
	metrics.UpdateBookingsPending(pending)
	logger.Info("booking awaiting response",
		slog.String("provider_id", b.ProviderID),
		slog.Time("response_deadline", b.ResponseDeadline))

	c.Start(ctx)
	return c, nil
}

func (d *Dispatcher) markResolved(id string) {
	d.mu.Lock()
	d.resolved[id] = resolvedEntry{at: d.deps.Now(), c: d.active[id]}
	delete(d.active, id)
	pending := len(d.active)
	d.mu.Unlock()
	metrics.UpdateBookingsPending(pending)
}

func (d *Dispatcher) pruneLocked(now time.Time) {
	for id, e := range d.resolved {
		if now.Sub(e.at) > resolvedRetention {
			delete(d.resolved, id)
		}
	}
}

// Get returns the controller of a pending booking.
func (d *Dispatcher) Get(id string) (*Controller, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.active[id]
	return c, ok
}

// State returns the state of a pending or recently resolved booking.
// Bookings that arrived already resolved have no state to report.
func (d *Dispatcher) State(id string) (State, bool) {
	d.mu.Lock()
	c, ok := d.active[id]
	if !ok {
		e, found := d.resolved[id]
		c, ok = e.c, found && e.c != nil
	}
	d.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return c.State(), true
}

// Pending returns the number of bookings awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Accept accepts a pending booking by id. See Controller.Accept.
// A recently resolved booking reports false without error.
func (d *Dispatcher) Accept(ctx context.Context, id string) (bool, error) {
	c, err := d.lookup(id)
	if c == nil || err != nil {
		return false, err
	}
	return c.Accept(ctx)
}

// Reject rejects a pending booking by id. See Accept.
func (d *Dispatcher) Reject(ctx context.Context, id string) (bool, error) {
	c, err := d.lookup(id)
	if c == nil || err != nil {
		return false, err
	}
	return c.Reject(ctx)
}

// lookup returns the pending controller for id, nil for a recently
// resolved booking, or a *entity.NotFoundError.
func (d *Dispatcher) lookup(id string) (*Controller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(d.deps.Now())
	if c, ok := d.active[id]; ok {
		return c, nil
	}
	if _, ok := d.resolved[id]; ok {
		return nil, nil
	}
	return nil, &entity.NotFoundError{Resource: "booking", ID: id}
}

// Shutdown stops every countdown and alert and waits for in-flight
// terminal writes until ctx is done. Pending bookings stay pending remotely.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	pending := make([]*Controller, 0, len(d.active))
	for _, c := range d.active {
		pending = append(pending, c)
	}
	finishing := make([]*Controller, 0, len(d.resolved))
	for _, e := range d.resolved {
		if e.c != nil {
			finishing = append(finishing, e.c)
		}
	}
	d.mu.Unlock()

	for _, c := range pending {
		c.Stop()
	}
	for _, c := range append(pending, finishing...) {
		if err := c.Wait(ctx); err != nil {
			return fmt.Errorf("booking dispatcher shutdown: %w", err)
		}
	}
	d.logger.Info("booking dispatcher stopped", slog.Int("pending", len(pending)))
	return nil
}
