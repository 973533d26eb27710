package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"

	"marketplace-core/internal/observability/metrics"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/internal/usecase/alert"
)

// Data message actions understood by the provider app.
const (
	ActionPlay    = "play"
	ActionRewind  = "rewind"
	ActionTone    = "tone"
	ActionVibrate = "vibrate"
)

// PushConfig configures a Pusher.
type PushConfig struct {
	// RatePerSecond is the sustained send rate. Default: 5
	RatePerSecond float64

	// Burst is the token bucket size. Default: 10
	Burst int

	// MaxWait is the longest a send queues for a token. Default: 2s
	MaxWait time.Duration

	// Breaker guards sends. Default: circuitbreaker.PushConfig()
	Breaker *circuitbreaker.Config

	// Logger. Default: slog.Default()
	Logger *slog.Logger
}

// Pusher sends push messages through a shared rate limiter and circuit
// breaker.
type Pusher struct {
	sender  Sender
	tokens  TokenSource
	limiter *RateLimiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewPusher creates a pusher sending through sender and resolving device
// tokens from tokens.
func NewPusher(sender Sender, tokens TokenSource, cfg PushConfig) *Pusher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Second
	}
	breakerCfg := circuitbreaker.PushConfig()
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pusher{
		sender:  sender,
		tokens:  tokens,
		limiter: NewRateLimiter(cfg.RatePerSecond, cfg.Burst, cfg.MaxWait),
		breaker: circuitbreaker.New(breakerCfg),
		logger:  cfg.Logger,
	}
}

// Device returns the alert collaborators of one provider's device.
func (p *Pusher) Device(providerID string) *Device {
	return &Device{pusher: p, providerID: providerID}
}

// send delivers msg, recording the result under kind. Send errors are
// returned unwrapped so FCM error codes stay inspectable.
func (p *Pusher) send(ctx context.Context, kind string, msg *messaging.Message) error {
	if err := p.limiter.Allow(ctx); err != nil {
		metrics.RecordPushSend(kind, err)
		return fmt.Errorf("rate limit: %w", err)
	}

	var sendErr error
	err := p.breaker.Run(func() error {
		_, sendErr = p.sender.Send(ctx, msg)
		if isTransient(sendErr) {
			return sendErr
		}
		return nil
	})
	if err == nil {
		err = sendErr
	}
	metrics.RecordPushSend(kind, err)
	return err
}

// Device implements alert.Surface, alert.Player, alert.ToneSynth and
// alert.Vibrator for one provider. Chime, tone and vibration are data
// messages the provider app acts on; Show is a visible notification.
type Device struct {
	pusher     *Pusher
	providerID string

	mu    sync.Mutex
	token string
}

var (
	_ alert.Surface   = (*Device)(nil)
	_ alert.Player    = (*Device)(nil)
	_ alert.ToneSynth = (*Device)(nil)
	_ alert.Vibrator  = (*Device)(nil)
)

func (d *Device) deviceToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	token := d.token
	d.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := d.pusher.tokens.DeviceToken(ctx, d.providerID)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.token = token
	d.mu.Unlock()
	return token, nil
}

func (d *Device) forgetToken() {
	d.mu.Lock()
	d.token = ""
	d.mu.Unlock()
}

// RequestPermission reports whether the provider has a registered device.
func (d *Device) RequestPermission(ctx context.Context) (bool, error) {
	_, err := d.deviceToken(ctx)
	if errors.Is(err, ErrNoDeviceToken) {
		return false, nil
	}
	return err == nil, err
}

// Show sends a high-priority visible notification.
func (d *Device) Show(ctx context.Context, n alert.Notification) error {
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: withRole(n.Data),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "booking_alerts",
				Sound:     "default",
				Tag:       n.Tag,
				Sticky:    n.RequireInteraction,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:    "default",
					ThreadID: n.Tag,
				},
			},
		},
	}
	return d.push(ctx, "notification", msg)
}

// Play asks the app to play the booking chime.
func (d *Device) Play(ctx context.Context) error {
	return d.push(ctx, "chime", dataMessage(ActionPlay, nil))
}

// Rewind asks the app to stop the chime and reset it to the start.
func (d *Device) Rewind(ctx context.Context) error {
	return d.push(ctx, "chime", dataMessage(ActionRewind, nil))
}

// Tone asks the app to synthesize a beep.
func (d *Device) Tone(ctx context.Context, frequencyHz int, dur time.Duration) error {
	return d.push(ctx, "tone", dataMessage(ActionTone, map[string]string{
		"frequency":  strconv.Itoa(frequencyHz),
		"durationMs": strconv.FormatInt(dur.Milliseconds(), 10),
	}))
}

// Vibrate asks the app to vibrate with pattern.
func (d *Device) Vibrate(ctx context.Context, pattern []time.Duration) error {
	ms := make([]string, len(pattern))
	for i, p := range pattern {
		ms[i] = strconv.FormatInt(p.Milliseconds(), 10)
	}
	return d.push(ctx, "vibration", dataMessage(ActionVibrate, map[string]string{
		"pattern": strings.Join(ms, ","),
	}))
}

func (d *Device) push(ctx context.Context, kind string, msg *messaging.Message) error {
	token, err := d.deviceToken(ctx)
	if err != nil {
		return err
	}
	msg.Token = token
	err = d.pusher.send(ctx, kind, msg)
	if err == nil {
		return nil
	}
	if isStaleToken(err) {
		d.pusher.logger.Warn("device token rejected, dropping cached token",
			slog.String("provider_id", d.providerID))
		d.forgetToken()
	}
	return fmt.Errorf("push %s to %s: %w", kind, d.providerID, err)
}

func dataMessage(action string, extra map[string]string) *messaging.Message {
	data := map[string]string{
		"type":   "booking_alert",
		"action": action,
	}
	for k, v := range extra {
		data[k] = v
	}
	return &messaging.Message{
		Data: withRole(data),
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "background",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
}

func withRole(data map[string]string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if _, ok := out["role"]; !ok {
		out["role"] = "provider"
	}
	return out
}
