package server

import (
	"encoding/json"
	"time"

	"shiftdrop/internal/outbox"
)

// Request payloads

type CreatePoolRequest struct {
	Name string `json:"name" minLength:"1"`
}

type ParticipantRequest struct {
	Name  string `json:"name" minLength:"1"`
	Phone string `json:"phone" minLength:"1" example:"+61400000001"`
}

type PostShiftRequest struct {
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at" format:"date-time"`
	EndsAt      time.Time `json:"ends_at" format:"date-time"`
	SpotsNeeded int       `json:"spots_needed" example:"2"`
}

type CasualRequest struct {
	CasualID string `json:"casual_id" minLength:"1"`
}

// Response payloads

type OutboxMessage struct {
	ID          string         `json:"id"`
	MessageType string         `json:"message_type"`
	Payload     map[string]any `json:"payload"`
	Status      outbox.Status  `json:"status" enum:"Pending,Sent,Failed,Cancelled"`
	Reference   string         `json:"reference,omitempty"`
	CreatedAt   time.Time      `json:"created_at" format:"date-time"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty" format:"date-time"`
	RetryCount  int            `json:"retry_count"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty" format:"date-time"`
	LastError   string         `json:"last_error,omitempty"`
}

type OutboxList struct {
	Items []OutboxMessage `json:"items"`
}

type OutboxStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type CancelMessageResponse struct {
	Cancelled bool          `json:"cancelled"`
	Message   OutboxMessage `json:"message"`
}

func toOutboxMessage(m outbox.Message) OutboxMessage {
	out := OutboxMessage{
		ID:          m.ID,
		MessageType: m.MessageType,
		Status:      m.Status,
		Reference:   m.Reference,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
		RetryCount:  m.RetryCount,
		NextRetryAt: m.NextRetryAt,
		LastError:   m.LastError,
	}
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &out.Payload)
	}
	return out
}

func toOutboxStats(counts map[outbox.Status]int) OutboxStats {
	return OutboxStats{
		Pending:   counts[outbox.StatusPending],
		Sent:      counts[outbox.StatusSent],
		Failed:    counts[outbox.StatusFailed],
		Cancelled: counts[outbox.StatusCancelled],
	}
}
