// Package pubsub delivers booking events published on Redis channels.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// handleTimeout bounds one handler call.
const handleTimeout = 30 * time.Second

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error

// RedisSubscriber subscribes handlers to Redis pub/sub channels.
type RedisSubscriber struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisSubscriber creates a subscriber on client. A nil logger means
// slog.Default().
func NewRedisSubscriber(client *redis.Client, logger *slog.Logger) *RedisSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{client: client, logger: logger}
}

// Subscribe starts delivering messages of channel to h and returns the
// function that unsubscribes. Messages are handled one at a time in
// publish order. The subscription ends on unsubscribe or when ctx is done.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string, h Handler) (func() error, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s.logger.Info("subscribed to channel", slog.String("channel", channel))

	loopCtx, cancel := context.WithCancel(ctx)
	c := newConsumer(channel, h, s.logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.run(loopCtx, ps.Channel())
	}()

	var once sync.Once
	var closeErr error
	unsubscribe := func() error {
		once.Do(func() {
			cancel()
			closeErr = ps.Close()
			wg.Wait()
			s.logger.Info("unsubscribed from channel", slog.String("channel", channel))
		})
		return closeErr
	}
	return unsubscribe, nil
}

// consumer feeds messages to a handler, isolating handler failures.
type consumer struct {
	channel string
	handle  Handler
	logger  *slog.Logger
}

func newConsumer(channel string, h Handler, logger *slog.Logger) *consumer {
	return &consumer{channel: channel, handle: h, logger: logger.With(slog.String("channel", channel))}
}

// run handles messages until msgs is closed or ctx is done.
func (c *consumer) run(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *consumer) dispatch(ctx context.Context, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in message handler",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if err := c.handle(ctx, []byte(msg.Payload)); err != nil {
		c.logger.Warn("message handler failed", slog.Any("error", err))
	}
}
