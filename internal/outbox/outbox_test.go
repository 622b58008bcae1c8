package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"shiftdrop/internal/clock"
	"shiftdrop/internal/db"
	"shiftdrop/internal/migrate"
	"shiftdrop/internal/notify"
)

var start = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Ctx   context.Context
	Store *Store
	Clock *clock.Fake
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return testEnv{Ctx: ctx, Store: NewStore(conn), Clock: clock.NewFake(start)}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (env testEnv) enqueue(t *testing.T, msgs ...Message) {
	t.Helper()
	tx, err := env.Store.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	for _, m := range msgs {
		if err := env.Store.Enqueue(env.Ctx, tx, m); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (env testEnv) confirmation(t *testing.T, recipient string) Message {
	t.Helper()
	m, err := NewMessage(notify.ClaimConfirmation{ClaimID: uuid.NewString(), Recipient: recipient, Description: "Bar"}, "shift-1", env.Clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(time.Millisecond)
	return m
}

func (env testEnv) get(t *testing.T, id string) Message {
	t.Helper()
	m, err := env.Store.Get(env.Ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return m
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Payload
	fn   func(notify.Payload) error
}

func (r *recorder) Send(_ context.Context, _ string, p notify.Payload) error {
	r.mu.Lock()
	r.sent = append(r.sent, p)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return nil
}

func TestWorkerSendsReadyMessages(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.confirmation(t, "+61400"), env.confirmation(t, "+61401")
	env.enqueue(t, a, b)
	rec := &recorder{}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{})
	res, err := w.ProcessOnce(env.Ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Fetched != 2 || res.Sent != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.sent) != 2 || rec.sent[0].Address() != "+61400" || rec.sent[1].Address() != "+61401" {
		t.Fatalf("expected oldest first, got %+v", rec.sent)
	}
	got := env.get(t, a.ID)
	if got.Status != StatusSent || got.ProcessedAt == nil || !got.ProcessedAt.Equal(env.Clock.Now()) {
		t.Fatalf("unexpected sent message %+v", got)
	}
	res, err = w.ProcessOnce(env.Ctx)
	if err != nil || res.Fetched != 0 {
		t.Fatalf("second tick = %+v, %v", res, err)
	}
}

func TestUnknownTypeFollowsBackoffToFailure(t *testing.T) {
	env := newTestEnv(t)
	m := Message{ID: uuid.NewString(), MessageType: "CarrierPigeon", Payload: []byte(`{}`), Status: StatusPending, CreatedAt: env.Clock.Now()}
	env.enqueue(t, m)
	w := NewWorker(env.Store, &recorder{}, env.Clock, quietLogger(), WorkerConfig{})
	schedule := DefaultBackoff()
	for i, delay := range schedule {
		if _, err := w.ProcessOnce(env.Ctx); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		got := env.get(t, m.ID)
		if got.Status != StatusPending || got.RetryCount != i+1 {
			t.Fatalf("attempt %d: %+v", i+1, got)
		}
		want := env.Clock.Now().Add(delay)
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(want) {
			t.Fatalf("attempt %d: next retry %v, want %v", i+1, got.NextRetryAt, want)
		}
		if !strings.Contains(got.LastError, "Unknown message type") {
			t.Fatalf("last error = %q", got.LastError)
		}
		// not due yet
		env.Clock.Advance(delay - time.Second)
		if res, _ := w.ProcessOnce(env.Ctx); res.Fetched != 0 {
			t.Fatalf("attempt %d: fetched before due", i+1)
		}
		env.Clock.Advance(time.Second)
	}
	if _, err := w.ProcessOnce(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got := env.get(t, m.ID)
	if got.Status != StatusFailed || got.RetryCount != 6 || got.ProcessedAt == nil || got.NextRetryAt != nil {
		t.Fatalf("expected terminal failure, got %+v", got)
	}
	if got.LastError != "Unknown message type: CarrierPigeon" {
		t.Fatalf("last error = %q", got.LastError)
	}
	env.Clock.Advance(time.Hour)
	if res, _ := w.ProcessOnce(env.Ctx); res.Fetched != 0 {
		t.Fatalf("failed message fetched again")
	}
}

func TestBatchOutcomesAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	boom, bad, good := env.confirmation(t, "boom"), env.confirmation(t, "bad"), env.confirmation(t, "good")
	env.enqueue(t, boom, bad, good)
	rec := &recorder{fn: func(p notify.Payload) error {
		switch p.Address() {
		case "boom":
			panic("gateway exploded")
		case "bad":
			return errors.New("gateway rejected")
		}
		return nil
	}}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{})
	res, err := w.ProcessOnce(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Retried != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := env.get(t, boom.ID); got.RetryCount != 1 || !strings.Contains(got.LastError, "panic") {
		t.Fatalf("panicking message %+v", got)
	}
	if got := env.get(t, bad.ID); got.RetryCount != 1 || got.LastError != "gateway rejected" {
		t.Fatalf("failing message %+v", got)
	}
	if got := env.get(t, good.ID); got.Status != StatusSent {
		t.Fatalf("good message %+v", got)
	}
}

func TestBatchSizeBoundsFetch(t *testing.T) {
	env := newTestEnv(t)
	var msgs []Message
	for i := 0; i < 12; i++ {
		msgs = append(msgs, env.confirmation(t, "+614"))
	}
	env.enqueue(t, msgs...)
	got, err := env.Store.FetchReady(env.Ctx, env.Clock.Now(), DefaultBatchSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("fetched %d", len(got))
	}
	for i := range got {
		if got[i].ID != msgs[i].ID {
			t.Fatalf("position %d: got %s want %s", i, got[i].ID, msgs[i].ID)
		}
	}
}

func TestCancelledMessageIsNotDelivered(t *testing.T) {
	env := newTestEnv(t)
	m := env.confirmation(t, "+61400")
	env.enqueue(t, m)
	ok, err := env.Store.Cancel(env.Ctx, m.ID, env.Clock.Now())
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	ok, err = env.Store.Cancel(env.Ctx, m.ID, env.Clock.Now())
	if err != nil || ok {
		t.Fatalf("second cancel = %v, %v", ok, err)
	}
	if _, err := env.Store.Cancel(env.Ctx, "missing", env.Clock.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	rec := &recorder{}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{})
	if _, err := w.ProcessOnce(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("cancelled message was delivered")
	}
	if got := env.get(t, m.ID); got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCancelDuringDispatchWins(t *testing.T) {
	env := newTestEnv(t)
	m := env.confirmation(t, "+61400")
	env.enqueue(t, m)
	rec := &recorder{fn: func(notify.Payload) error {
		if _, err := env.Store.Cancel(env.Ctx, m.ID, env.Clock.Now()); err != nil {
			t.Errorf("cancel: %v", err)
		}
		return nil
	}}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{})
	res, err := w.ProcessOnce(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 1 {
		t.Fatalf("expected dropped outcome, got %+v", res)
	}
	if got := env.get(t, m.ID); got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestContextCancelSkipsUnstartedWork(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := env.confirmation(t, "a"), env.confirmation(t, "b"), env.confirmation(t, "c")
	env.enqueue(t, a, b, c)
	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	rec := &recorder{fn: func(notify.Payload) error { cancel(); return nil }}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{})
	res, err := w.ProcessOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Skipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := env.get(t, a.ID); got.Status != StatusSent {
		t.Fatalf("in-flight outcome lost: %+v", got)
	}
	for _, id := range []string{b.ID, c.ID} {
		if got := env.get(t, id); got.Status != StatusPending || got.RetryCount != 0 {
			t.Fatalf("skipped message touched: %+v", got)
		}
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.enqueue(t, env.confirmation(t, "+61400"))
	rec := &recorder{}
	w := NewWorker(env.Store, rec, env.Clock, quietLogger(), WorkerConfig{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(env.Ctx)
	done := w.Start(ctx)
	deadline := time.After(5 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.sent)
		rec.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	env := newTestEnv(t)
	m := env.confirmation(t, "+61400")
	tx, err := env.Store.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Store.Enqueue(env.Ctx, tx, m); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Store.Get(env.Ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no trace, got %v", err)
	}
}

func TestJanitorPurgesOldFinishedMessages(t *testing.T) {
	env := newTestEnv(t)
	old, pending := env.confirmation(t, "old"), env.confirmation(t, "pending")
	env.enqueue(t, old, pending)
	w := NewWorker(env.Store, succeedOnlyFor(old.ID, env.Store), env.Clock, quietLogger(), WorkerConfig{})
	if _, err := w.ProcessOnce(env.Ctx); err != nil {
		t.Fatal(err)
	}
	j, err := NewJanitor(env.Store, env.Clock, quietLogger(), "@every 1h", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := j.Sweep(env.Ctx); err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}
	env.Clock.Advance(25 * time.Hour)
	if n, err := j.Sweep(env.Ctx); err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	stats, err := env.Store.Stats(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatusSent] != 0 || stats[StatusPending] != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if _, err := NewJanitor(env.Store, env.Clock, quietLogger(), "not a schedule", time.Hour); err == nil {
		t.Fatalf("expected schedule error")
	}
}

// succeedOnlyFor succeeds for the given message id's recipient and fails the rest.
func succeedOnlyFor(id string, store *Store) notify.Dispatcher {
	m, _ := store.Get(context.Background(), id)
	p, _ := notify.Decode(m.MessageType, m.Payload)
	return notify.DispatcherFunc(func(_ context.Context, _ string, got notify.Payload) error {
		if got.Address() == p.Address() {
			return nil
		}
		return errors.New("not today")
	})
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	a := env.confirmation(t, "a")
	b, err := NewMessage(notify.ShiftCancelled{NotificationID: "n", Recipient: "b", Description: "Bar"}, "shift-2", env.Clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	env.enqueue(t, a, b)
	items, err := env.Store.List(env.Ctx, ListFilter{Reference: "shift-2"})
	if err != nil || len(items) != 1 || items[0].ID != b.ID {
		t.Fatalf("list by reference = %+v, %v", items, err)
	}
	items, err = env.Store.List(env.Ctx, ListFilter{Status: StatusPending})
	if err != nil || len(items) != 2 || items[0].ID != b.ID {
		t.Fatalf("list newest first = %+v, %v", items, err)
	}
}
