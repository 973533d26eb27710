package notifier

import (
	"context"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// NoopSender drops every message. It is used when no Firebase credentials
// are configured so alerts stay wired without a push backend.
type NoopSender struct {
	Logger *slog.Logger
}

// Send logs the message at debug level and reports success.
func (n NoopSender) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("push disabled, dropping message", slog.String("action", msg.Data["action"]))
	return "noop", nil
}
