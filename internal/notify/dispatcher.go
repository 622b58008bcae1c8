package notify

import (
	"context"
	"log/slog"
)

// Dispatcher transmits one notification. A nil error means the channel accepted it.
type Dispatcher interface {
	Send(ctx context.Context, messageType string, payload Payload) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, messageType string, payload Payload) error

func (f DispatcherFunc) Send(ctx context.Context, messageType string, payload Payload) error {
	return f(ctx, messageType, payload)
}

// LogDispatcher writes notifications to the log instead of a gateway.
type LogDispatcher struct {
	Logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{Logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, messageType string, payload Payload) error {
	d.Logger.InfoContext(ctx, "notification dispatched",
		"module", "notify",
		"operation", "send",
		"message_type", messageType,
		"recipient", payload.Address(),
		"text", payload.Text(),
	)
	return nil
}
