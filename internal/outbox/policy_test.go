package outbox

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRetryPolicySchedule(t *testing.T) {
	p := NewRetryPolicy([]time.Duration{time.Second, 2 * time.Second})
	if p.MaxAttempts() != 3 {
		t.Fatalf("max attempts = %d", p.MaxAttempts())
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Message{Status: StatusPending}
	if p.Fail(&m, errors.New("x"), now) || !m.NextRetryAt.Equal(now.Add(time.Second)) {
		t.Fatalf("first failure %+v", m)
	}
	if p.Fail(&m, errors.New("x"), now) || !m.NextRetryAt.Equal(now.Add(2*time.Second)) {
		t.Fatalf("second failure %+v", m)
	}
	if !p.Fail(&m, nil, now) || m.Status != StatusFailed || m.LastError != "unknown error" {
		t.Fatalf("third failure %+v", m)
	}
}

func TestRetryPolicyDefaultsAndCopies(t *testing.T) {
	sched := []time.Duration{time.Second}
	p := NewRetryPolicy(sched)
	sched[0] = time.Hour
	if p.Schedule[0] != time.Second {
		t.Fatalf("policy shares caller slice")
	}
	if got := NewRetryPolicy(nil).Schedule; len(got) != 5 || got[4] != 15*time.Minute {
		t.Fatalf("default schedule = %v", got)
	}
}

func TestLastErrorIsBounded(t *testing.T) {
	p := NewRetryPolicy(nil)
	m := Message{Status: StatusPending}
	p.Fail(&m, errors.New(strings.Repeat("é", MaxErrorLength)), time.Now())
	if len(m.LastError) > MaxErrorLength {
		t.Fatalf("last error length %d", len(m.LastError))
	}
	if !strings.HasPrefix(m.LastError, "é") {
		t.Fatalf("truncated badly")
	}
}

func TestLastErrorKeepsBodyAroundInvalidBytes(t *testing.T) {
	p := NewRetryPolicy(nil)
	m := Message{Status: StatusPending}
	p.Fail(&m, errors.New("webhook status 500: \xff"+strings.Repeat("a", 3000)), time.Now())
	if !utf8.ValidString(m.LastError) {
		t.Fatalf("last error is not valid utf-8: %q", m.LastError)
	}
	if len(m.LastError) > MaxErrorLength || len(m.LastError) < MaxErrorLength-utf8.UTFMax {
		t.Fatalf("last error length %d", len(m.LastError))
	}
	if !strings.HasPrefix(m.LastError, "webhook status 500: \uFFFDaaa") {
		t.Fatalf("body lost: %q", m.LastError[:40])
	}
}

func TestShortInvalidErrorIsCleaned(t *testing.T) {
	p := NewRetryPolicy(nil)
	m := Message{Status: StatusPending}
	p.Fail(&m, errors.New("webhook status 502: \xff\xfe"), time.Now())
	if !utf8.ValidString(m.LastError) {
		t.Fatalf("last error is not valid utf-8: %q", m.LastError)
	}
	if m.LastError != "webhook status 502: \uFFFD" {
		t.Fatalf("last error = %q", m.LastError)
	}
}
