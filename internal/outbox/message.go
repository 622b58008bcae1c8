package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"shiftdrop/internal/notify"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusSent      Status = "Sent"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Message is one notification obligation. Reference names the aggregate it is about.
type Message struct {
	ID          string          `json:"id"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status" enum:"Pending,Sent,Failed,Cancelled"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at" format:"date-time"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" format:"date-time"`
	RetryCount  int             `json:"retry_count"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty" format:"date-time"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewMessage serializes p into a Pending message. Ids are time ordered.
func NewMessage(p notify.Payload, reference string, now time.Time) (Message, error) {
	typ, raw, err := notify.Encode(p)
	if err != nil {
		return Message{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:          id.String(),
		MessageType: typ,
		Payload:     raw,
		Status:      StatusPending,
		Reference:   reference,
		CreatedAt:   now,
	}, nil
}

// Ready reports whether the worker may pick the message up at now.
func (m Message) Ready(now time.Time) bool {
	return m.Status == StatusPending && (m.NextRetryAt == nil || !m.NextRetryAt.After(now))
}

func (m *Message) MarkSent(now time.Time) {
	m.Status = StatusSent
	at := now
	m.ProcessedAt = &at
	m.NextRetryAt = nil
}
