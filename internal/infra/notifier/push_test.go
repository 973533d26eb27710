package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-core/internal/infra/adapter/persistence/memory"
	"marketplace-core/internal/repository"
	"marketplace-core/internal/resilience/circuitbreaker"
	"marketplace-core/internal/resilience/retry"
	"marketplace-core/internal/usecase/alert"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*messaging.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

func (s *fakeSender) messages() []*messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*messaging.Message(nil), s.sent...)
}

type staticTokens map[string]string

func (s staticTokens) DeviceToken(ctx context.Context, providerID string) (string, error) {
	if tok, ok := s[providerID]; ok {
		return tok, nil
	}
	return "", ErrNoDeviceToken
}

type countingTokens struct {
	staticTokens
	calls int
}

func (c *countingTokens) DeviceToken(ctx context.Context, providerID string) (string, error) {
	c.calls++
	return c.staticTokens.DeviceToken(ctx, providerID)
}

func newTestPusher(sender Sender, tokens TokenSource) *Pusher {
	return NewPusher(sender, tokens, PushConfig{RatePerSecond: 1000, Burst: 100})
}

func TestDevice_Play(t *testing.T) {
	sender := &fakeSender{}
	d := newTestPusher(sender, staticTokens{"prov-1": "tok-1"}).Device("prov-1")

	require.NoError(t, d.Play(context.Background()))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tok-1", msgs[0].Token)
	assert.Nil(t, msgs[0].Notification, "chime is a data message")
	assert.Equal(t, ActionPlay, msgs[0].Data["action"])
	assert.Equal(t, "booking_alert", msgs[0].Data["type"])
	assert.Equal(t, "provider", msgs[0].Data["role"])
	assert.Equal(t, "high", msgs[0].Android.Priority)
}

func TestDevice_RewindToneVibrate(t *testing.T) {
	sender := &fakeSender{}
	d := newTestPusher(sender, staticTokens{"prov-1": "tok-1"}).Device("prov-1")
	ctx := context.Background()

	require.NoError(t, d.Rewind(ctx))
	require.NoError(t, d.Tone(ctx, alert.DefaultToneFrequency, alert.DefaultToneDuration))
	require.NoError(t, d.Vibrate(ctx, []time.Duration{200 * time.Millisecond, 100 * time.Millisecond}))

	msgs := sender.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, ActionRewind, msgs[0].Data["action"])
	assert.Equal(t, "800", msgs[1].Data["frequency"])
	assert.Equal(t, "500", msgs[1].Data["durationMs"])
	assert.Equal(t, "200,100", msgs[2].Data["pattern"])
}

func TestDevice_Show(t *testing.T) {
	sender := &fakeSender{}
	d := newTestPusher(sender, staticTokens{"prov-1": "tok-1"}).Device("prov-1")

	err := d.Show(context.Background(), alert.Notification{
		Title:              "New booking request",
		Body:               "Respond within 5 minutes",
		Tag:                "booking-b1",
		RequireInteraction: true,
		Data:               map[string]string{"bookingId": "b1"},
	})
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.NotNil(t, msg.Notification)
	assert.Equal(t, "New booking request", msg.Notification.Title)
	assert.Equal(t, "b1", msg.Data["bookingId"])
	assert.Equal(t, "booking-b1", msg.Android.Notification.Tag)
	assert.True(t, msg.Android.Notification.Sticky)
	assert.Equal(t, "alert", msg.APNS.Headers["apns-push-type"])
}

func TestDevice_RequestPermission(t *testing.T) {
	p := newTestPusher(&fakeSender{}, staticTokens{"prov-1": "tok-1"})

	granted, err := p.Device("prov-1").RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = p.Device("prov-2").RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestDevice_NoTokenSkipsSend(t *testing.T) {
	sender := &fakeSender{}
	d := newTestPusher(sender, staticTokens{}).Device("prov-1")

	err := d.Play(context.Background())

	assert.ErrorIs(t, err, ErrNoDeviceToken)
	assert.Empty(t, sender.messages())
}

func TestDevice_TokenIsCached(t *testing.T) {
	tokens := &countingTokens{staticTokens: staticTokens{"prov-1": "tok-1"}}
	d := newTestPusher(&fakeSender{}, tokens).Device("prov-1")
	ctx := context.Background()

	require.NoError(t, d.Play(ctx))
	require.NoError(t, d.Play(ctx))

	assert.Equal(t, 1, tokens.calls)
}

func TestPusher_TransientFailuresTripBreaker(t *testing.T) {
	sender := &fakeSender{err: errors.New("fcm unavailable")}
	d := newTestPusher(sender, staticTokens{"prov-1": "tok-1"}).Device("prov-1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.Error(t, d.Play(ctx))
	}
	err := d.Play(ctx)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, sender.messages(), 4)
}

func TestPusher_ThrottledSendIsNotDelivered(t *testing.T) {
	sender := &fakeSender{}
	p := NewPusher(sender, staticTokens{"prov-1": "tok-1"}, PushConfig{
		RatePerSecond: 0.001,
		Burst:         1,
		MaxWait:       10 * time.Millisecond,
		Breaker:       &circuitbreaker.Config{Name: "test-push", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 1, MinRequests: 100},
	})
	d := p.Device("prov-1")

	require.NoError(t, d.Play(context.Background()))
	err := d.Play(context.Background())

	assert.ErrorIs(t, err, ErrThrottled)
	assert.Len(t, sender.messages(), 1)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(ErrNoDeviceToken))
	assert.True(t, isTransient(errors.New("timeout")))
}

func TestStoreTokens(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, repository.CollectionDevices, "prov-1", map[string]any{"fcmToken": "tok-1"}))
	require.NoError(t, store.Create(ctx, repository.CollectionDevices, "prov-2", map[string]any{"fcmToken": ""}))

	monitor := circuitbreaker.NewHealthMonitor(circuitbreaker.ProbeFunc(store.Ping), circuitbreaker.MonitorConfig{})
	tokens := StoreTokens{
		Store:  store,
		Caller: retry.NewCaller(monitor, retry.WithSleep(func(context.Context, time.Duration) error { return nil })),
	}

	tok, err := tokens.DeviceToken(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = tokens.DeviceToken(ctx, "prov-2")
	assert.ErrorIs(t, err, ErrNoDeviceToken)

	_, err = tokens.DeviceToken(ctx, "prov-3")
	assert.ErrorIs(t, err, ErrNoDeviceToken)

	store.SetOffline(true)
	_, err = tokens.DeviceToken(ctx, "prov-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDeviceToken)
}
