package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"shiftdrop/internal/clock"
	"shiftdrop/internal/config"
	"shiftdrop/internal/db"
	"shiftdrop/internal/engine"
	"shiftdrop/internal/migrate"
	"shiftdrop/internal/notify"
	"shiftdrop/internal/outbox"
)

// LoadEnv reads <workspace>/.env into the process environment. Variables
// already set win. A missing file is not an error.
func LoadEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
}

// Runtime holds the opened database and the services built on it.
type Runtime struct {
	Config *config.Config
	DB     *db.DB
	Engine engine.Engine
	Logger *slog.Logger
	Clock  clock.Clock

	closers []func() error
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(ctx, db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: cfg.Database.Workspace,
	})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	clk := clock.System{}
	eng := engine.New(conn, cfg)
	eng.Clock = clk
	rt := &Runtime{Config: cfg, DB: conn, Engine: eng, Logger: logger, Clock: clk}
	rt.closers = append(rt.closers, conn.Close)
	logger.InfoContext(ctx, "database ready",
		"module", "app",
		"operation", "open",
		"driver", string(conn.Dialect),
	)
	return rt, nil
}

// Dispatcher builds the configured delivery backend, wrapped in the
// per-recipient throttle when enabled.
func (r *Runtime) Dispatcher(ctx context.Context) (notify.Dispatcher, error) {
	dc := r.Config.Dispatcher
	var d notify.Dispatcher
	switch dc.Kind {
	case "", "log":
		d = notify.NewLogDispatcher(r.Logger)
	case "webhook":
		d = notify.NewWebhookDispatcher(dc.Webhook.URL, dc.Webhook.Secret, dc.Webhook.Timeout)
	case "amqp":
		a, err := notify.NewAMQPDispatcher(dc.AMQP.URL, dc.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, a.Close)
		d = a
	default:
		return nil, fmt.Errorf("unknown dispatcher kind %q", dc.Kind)
	}
	if !dc.Throttle.Enabled {
		return d, nil
	}
	client, err := notify.NewRedisClient(ctx, dc.Throttle.RedisAddr, dc.Throttle.RedisPassword, dc.Throttle.RedisDB)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, client.Close)
	return &notify.Throttle{
		Next:    d,
		Counter: notify.RedisCounter{Client: client},
		Limit:   dc.Throttle.Limit,
		Window:  dc.Throttle.Window,
		Clock:   r.Clock,
		Logger:  r.Logger,
	}, nil
}

// Worker builds the outbox worker around the configured dispatcher.
func (r *Runtime) Worker(ctx context.Context) (*outbox.Worker, error) {
	d, err := r.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	oc := r.Config.Outbox
	return outbox.NewWorker(r.Engine.Outbox, d, r.Clock, r.Logger, outbox.WorkerConfig{
		PollInterval:    oc.PollInterval,
		BatchSize:       oc.BatchSize,
		DispatchTimeout: oc.DispatchTimeout,
		Backoff:         oc.Backoff,
	}), nil
}

func (r *Runtime) Janitor() (*outbox.Janitor, error) {
	j := r.Config.Outbox.Janitor
	return outbox.NewJanitor(r.Engine.Outbox, r.Clock, r.Logger, j.Schedule, j.Retention)
}

// Close releases everything opened by the runtime, newest first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
