package engine

import (
	"context"
	"time"

	"shiftdrop/internal/outbox"
)

func (e Engine) ListOutbox(ctx context.Context, f outbox.ListFilter) ([]outbox.Message, error) {
	return e.Outbox.List(ctx, f)
}

func (e Engine) OutboxStats(ctx context.Context) (map[outbox.Status]int, error) {
	return e.Outbox.Stats(ctx)
}

// CancelMessage withdraws a Pending message. It reports false when the message had already finished.
func (e Engine) CancelMessage(ctx context.Context, id string) (bool, error) {
	return e.Outbox.Cancel(ctx, id, e.now())
}

// PurgeOutbox deletes finished messages processed more than olderThan ago.
func (e Engine) PurgeOutbox(ctx context.Context, olderThan time.Duration) (int64, error) {
	return e.Outbox.Purge(ctx, e.now().Add(-olderThan))
}

func (e Engine) Message(ctx context.Context, id string) (outbox.Message, error) {
	return e.Outbox.Get(ctx, id)
}
