package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"shiftdrop/internal/clock"
)

// ErrThrottled is returned when a recipient exceeded its send budget for the window.
var ErrThrottled = errors.New("recipient send limit reached")

// WindowCounter increments a counter that expires after window.
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

var incrScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisCounter keeps fixed-window counters in redis.
type RedisCounter struct {
	Client *redis.Client
}

func (c RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrScript.Run(ctx, c.Client, []string{key}, window.Milliseconds()).Int64()
}

// NewRedisClient builds a client and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Throttle caps sends per recipient per fixed window. Over-limit sends fail and
// are retried by the outbox on its normal schedule. Counter errors let the send through.
type Throttle struct {
	Next    Dispatcher
	Counter WindowCounter
	Limit   int64
	Window  time.Duration
	Prefix  string
	Clock   clock.Clock
	Logger  *slog.Logger
}

func (t *Throttle) Send(ctx context.Context, messageType string, payload Payload) error {
	now := time.Now()
	if t.Clock != nil {
		now = t.Clock.Now()
	}
	key := t.key(payload.Address(), now)
	n, err := t.Counter.Incr(ctx, key, t.Window)
	if err != nil {
		if t.Logger != nil {
			t.Logger.WarnContext(ctx, "throttle counter unavailable",
				"module", "notify",
				"operation", "throttle",
				"error", err.Error(),
			)
		}
		return t.Next.Send(ctx, messageType, payload)
	}
	if n > t.Limit {
		return fmt.Errorf("%w: %s", ErrThrottled, payload.Address())
	}
	return t.Next.Send(ctx, messageType, payload)
}

func (t *Throttle) key(recipient string, now time.Time) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = "shiftdrop:throttle:"
	}
	var bucket int64
	if ms := t.Window.Milliseconds(); ms > 0 {
		bucket = now.UnixMilli() / ms
	}
	return prefix + recipient + ":" + strconv.FormatInt(bucket, 10)
}
