package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"shiftdrop/internal/clock"
)

const (
	DefaultJanitorSchedule = "@hourly"
	DefaultRetention       = 7 * 24 * time.Hour
)

// Janitor deletes finished messages older than the retention window on a cron schedule.
type Janitor struct {
	store     *Store
	clock     clock.Clock
	logger    *slog.Logger
	retention time.Duration
	cron      *cron.Cron
}

func NewJanitor(store *Store, clk clock.Clock, logger *slog.Logger, schedule string, retention time.Duration) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	j := &Janitor{
		store:     store,
		clock:     clk,
		logger:    logger,
		retention: retention,
		cron:      cron.New(cron.WithChain(cron.Recover(cronLogger))),
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling; the returned context is done once a running sweep finishes.
func (j *Janitor) Stop() context.Context { return j.cron.Stop() }

// Sweep purges once.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	return j.store.Purge(ctx, j.clock.Now().Add(-j.retention))
}

func (j *Janitor) run() {
	ctx := context.Background()
	n, err := j.Sweep(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "outbox purge failed",
			"module", "outbox.janitor",
			"operation", "purge",
			"outcome", "failure",
			"error", err.Error(),
		)
		return
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "outbox purged",
			"module", "outbox.janitor",
			"operation", "purge",
			"outcome", "success",
			"deleted_count", n,
		)
	}
}
