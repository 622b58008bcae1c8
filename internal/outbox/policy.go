package outbox

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxErrorLength bounds the stored last_error text.
const MaxErrorLength = 2000

// DefaultBackoff returns the delivery retry schedule, indexed by retry ordinal.
func DefaultBackoff() []time.Duration {
	return []time.Duration{
		10 * time.Second,
		30 * time.Second,
		time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}
}

// RetryPolicy applies a fixed backoff table. A failure past the end of the table is terminal.
type RetryPolicy struct {
	Schedule []time.Duration
}

func NewRetryPolicy(schedule []time.Duration) RetryPolicy {
	if len(schedule) == 0 {
		schedule = DefaultBackoff()
	}
	return RetryPolicy{Schedule: append([]time.Duration(nil), schedule...)}
}

// MaxAttempts is the number of deliveries tried before a message fails for good.
func (p RetryPolicy) MaxAttempts() int { return len(p.Schedule) + 1 }

// Fail records a delivery failure on m and reports whether it is now terminal.
func (p RetryPolicy) Fail(m *Message, cause error, now time.Time) bool {
	m.RetryCount++
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	m.LastError = truncate(msg, MaxErrorLength)
	if m.RetryCount > len(p.Schedule) {
		m.Status = StatusFailed
		at := now
		m.ProcessedAt = &at
		m.NextRetryAt = nil
		return true
	}
	next := now.Add(p.Schedule[m.RetryCount-1])
	m.NextRetryAt = &next
	return false
}

// truncate replaces invalid UTF-8 and cuts to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
