package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shiftdrop/internal/clock"
	"shiftdrop/internal/notify"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultBatchSize       = 10
	DefaultDispatchTimeout = 30 * time.Second
)

type WorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	DispatchTimeout time.Duration
	Backoff         []time.Duration
}

// TickResult summarizes one polling pass.
type TickResult struct {
	Fetched int
	Sent    int
	Retried int
	Failed  int
	Skipped int
	Dropped int
}

// Worker delivers ready outbox messages through a Dispatcher.
// It assumes it is the only worker polling the table.
type Worker struct {
	store      *Store
	dispatcher notify.Dispatcher
	clock      clock.Clock
	policy     RetryPolicy
	logger     *slog.Logger

	interval        time.Duration
	batchSize       int
	dispatchTimeout time.Duration
}

func NewWorker(store *Store, dispatcher notify.Dispatcher, clk clock.Clock, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:           store,
		dispatcher:      dispatcher,
		clock:           clk,
		policy:          NewRetryPolicy(cfg.Backoff),
		logger:          logger,
		interval:        cfg.PollInterval,
		batchSize:       cfg.BatchSize,
		dispatchTimeout: cfg.DispatchTimeout,
	}
}

// Run polls until ctx is cancelled. A cancelled context is a clean stop and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "outbox tick failed",
				"module", "outbox.worker",
				"operation", "process_once",
				"outcome", "failure",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Start runs the loop in a goroutine. The channel yields Run's result and closes.
func (w *Worker) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- w.Run(ctx)
	}()
	return done
}

// ProcessOnce fetches one batch, dispatches it outside any transaction and
// persists every outcome in a single transaction.
func (w *Worker) ProcessOnce(ctx context.Context) (TickResult, error) {
	var res TickResult
	if err := ctx.Err(); err != nil {
		return res, nil
	}
	msgs, err := w.store.FetchReady(ctx, w.clock.Now(), w.batchSize)
	if err != nil {
		return res, fmt.Errorf("fetch ready: %w", err)
	}
	res.Fetched = len(msgs)
	if len(msgs) == 0 {
		return res, nil
	}
	outcomes := make([]Message, 0, len(msgs))
	for i := range msgs {
		if ctx.Err() != nil {
			res.Skipped = len(msgs) - i
			break
		}
		m := msgs[i]
		err := w.deliver(ctx, m)
		now := w.clock.Now()
		if err == nil {
			m.MarkSent(now)
			res.Sent++
		} else if w.policy.Fail(&m, err, now) {
			res.Failed++
			w.logger.ErrorContext(ctx, "outbox message failed permanently",
				"module", "outbox.worker",
				"operation", "dispatch",
				"outcome", "failure",
				"message_id", m.ID,
				"message_type", m.MessageType,
				"retry_count", m.RetryCount,
				"error", m.LastError,
			)
		} else {
			res.Retried++
			w.logger.WarnContext(ctx, "outbox dispatch failed; retry scheduled",
				"module", "outbox.worker",
				"operation", "dispatch",
				"outcome", "retry",
				"message_id", m.ID,
				"message_type", m.MessageType,
				"retry_count", m.RetryCount,
				"next_retry_at", m.NextRetryAt,
				"error", m.LastError,
			)
		}
		outcomes = append(outcomes, m)
	}

	// outcomes already obtained are persisted even when ctx was cancelled mid-batch
	applied, err := w.store.SaveOutcomes(context.WithoutCancel(ctx), outcomes)
	if err != nil {
		return res, fmt.Errorf("save outcomes: %w", err)
	}
	res.Dropped = len(outcomes) - applied
	w.logger.InfoContext(ctx, "outbox batch processed",
		"module", "outbox.worker",
		"operation", "process_once",
		"outcome", "success",
		"batch_size", res.Fetched,
		"sent_count", res.Sent,
		"retry_count", res.Retried,
		"failed_count", res.Failed,
		"skipped_count", res.Skipped,
		"dropped_count", res.Dropped,
	)
	return res, nil
}

func (w *Worker) deliver(ctx context.Context, m Message) (err error) {
	payload, err := notify.Decode(m.MessageType, m.Payload)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()
	// a send that has started is allowed to finish
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.dispatchTimeout)
	defer cancel()
	return w.dispatcher.Send(sendCtx, m.MessageType, payload)
}
