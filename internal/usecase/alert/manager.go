// Package alert sounds the persistent alert of a pending booking.
//
// A Manager plays a chime immediately and then on a fixed interval until it
// is stopped. It also raises one notification (when permission is granted)
// and one vibration. Every collaborator is optional and every failure is
// logged and swallowed: alerting never fails the caller.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/observability/metrics"
)

const (
	// DefaultInterval is the replay interval of the chime.
	DefaultInterval = 3 * time.Second

	// DefaultToneFrequency and DefaultToneDuration describe the fallback beep.
	DefaultToneFrequency = 800
	DefaultToneDuration  = 500 * time.Millisecond

	// stepTimeout bounds a single play, notify or vibrate call.
	stepTimeout = 5 * time.Second
)

// DefaultVibrationPattern alternates vibration and pause durations.
var DefaultVibrationPattern = []time.Duration{
	200 * time.Millisecond, 100 * time.Millisecond,
	200 * time.Millisecond, 100 * time.Millisecond,
	400 * time.Millisecond,
}

// Player plays the alert chime. Rewind resets playback to position zero.
type Player interface {
	Play(ctx context.Context) error
	Rewind(ctx context.Context) error
}

// ToneSynth produces the synthesized fallback tone.
type ToneSynth interface {
	Tone(ctx context.Context, frequencyHz int, d time.Duration) error
}

// Notification is a user-visible notification.
type Notification struct {
	Title              string
	Body               string
	Tag                string
	RequireInteraction bool
	Data               map[string]string
}

// Surface shows platform notifications.
type Surface interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, n Notification) error
}

// Vibrator triggers a vibration pattern on devices that support it.
type Vibrator interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// Config holds the collaborators and timing of a Manager. Nil collaborators
// are skipped.
type Config struct {
	Player   Player
	Tone     ToneSynth
	Surface  Surface
	Vibrator Vibrator

	// Interval between chimes. Default: DefaultInterval
	Interval time.Duration

	// VibrationPattern. Default: DefaultVibrationPattern
	VibrationPattern []time.Duration

	// Logger. Default: slog.Default()
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if len(c.VibrationPattern) == 0 {
		c.VibrationPattern = DefaultVibrationPattern
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager is the persistent alert of one booking.
type Manager struct {
	cfg          Config
	notification Notification
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a stopped alert that raises n when started.
func NewManager(cfg Config, n Notification) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:          cfg,
		notification: n,
		logger:       cfg.Logger,
	}
}

// BookingNotification is the notification raised for a new booking.
func BookingNotification(b entity.BookingRequest) Notification {
	return Notification{
		Title:              "New booking request",
		Body:               fmt.Sprintf("Respond within %s", entity.HumanWait(time.Until(b.ResponseDeadline))),
		Tag:                "booking-" + b.ID,
		RequireInteraction: true,
		Data: map[string]string{
			"bookingId":        b.ID,
			"responseDeadline": b.ResponseDeadline.UTC().Format(time.RFC3339),
		},
	}
}

// ForBooking returns a factory building one Manager per booking.
func ForBooking(cfg Config) func(entity.BookingRequest) *Manager {
	return func(b entity.BookingRequest) *Manager {
		c := cfg
		if c.Logger != nil {
			c.Logger = c.Logger.With(slog.String("booking_id", b.ID))
		}
		return NewManager(c, BookingNotification(b))
	}
}

// Running reports whether the alert is sounding.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start plays the first chime at once, raises the notification and
// vibration alongside it, and repeats the chime every Interval.
// Calling Start while running is a no-op. Cancelling ctx also ends the loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	metrics.AlertStarted()
	go m.loop(loopCtx, m.done)
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer metrics.AlertStopped()

	// The first chime never waits on the notification surface.
	var side sync.WaitGroup
	defer side.Wait()
	side.Add(1)
	go func() {
		defer side.Done()
		m.safely("notification", func() { m.notify(ctx) })
		m.safely("vibration", func() { m.vibrate(ctx) })
	}()

	m.safely("playback", func() { m.chime(ctx) })

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safely("playback", func() { m.chime(ctx) })
		}
	}
}

// Stop halts the chime loop and rewinds playback. It is safe to call
// repeatedly and on an alert that never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if m.cfg.Player == nil {
		return
	}
	m.safely("playback", func() {
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		if err := m.cfg.Player.Rewind(ctx); err != nil {
			m.logger.Debug("alert rewind failed", slog.Any("error", err))
		}
	})
}

// chime plays the alert once, falling back to the synthesized tone.
func (m *Manager) chime(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	if m.cfg.Player != nil {
		err := m.cfg.Player.Play(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		metrics.RecordAlertFailure("playback")
		m.logger.Warn("alert playback failed, using fallback tone", slog.Any("error", err))
	}

	if m.cfg.Tone == nil {
		return
	}
	if err := m.cfg.Tone.Tone(ctx, DefaultToneFrequency, DefaultToneDuration); err != nil && ctx.Err() == nil {
		metrics.RecordAlertFailure("fallback")
		m.logger.Warn("alert fallback tone failed", slog.Any("error", err))
	}
}

func (m *Manager) notify(ctx context.Context) {
	if m.cfg.Surface == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	granted, err := m.cfg.Surface.RequestPermission(ctx)
	if err != nil {
		metrics.RecordAlertFailure("notification")
		m.logger.Warn("notification permission request failed", slog.Any("error", err))
		return
	}
	if !granted {
		m.logger.Debug("notification permission not granted")
		return
	}
	if err := m.cfg.Surface.Show(ctx, m.notification); err != nil {
		metrics.RecordAlertFailure("notification")
		m.logger.Warn("alert notification failed", slog.Any("error", err))
	}
}

func (m *Manager) vibrate(ctx context.Context) {
	if m.cfg.Vibrator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := m.cfg.Vibrator.Vibrate(ctx, m.cfg.VibrationPattern); err != nil {
		metrics.RecordAlertFailure("vibration")
		m.logger.Debug("vibration failed", slog.Any("error", err))
	}
}

// safely runs fn and turns a panic into a recorded failure.
func (m *Manager) safely(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordAlertFailure(stage)
			m.logger.Error("panic in alert",
				slog.String("stage", stage),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
