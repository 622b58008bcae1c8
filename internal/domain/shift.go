package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ShiftStatus string

const (
	ShiftOpen      ShiftStatus = "Open"
	ShiftFilled    ShiftStatus = "Filled"
	ShiftCancelled ShiftStatus = "Cancelled"
)

// Shift owns its claims and the remaining-spot count.
// Version is the optimistic concurrency token; the store bumps it on every save.
type Shift struct {
	ID             string      `json:"id"`
	PoolID         string      `json:"pool_id"`
	Description    string      `json:"description"`
	StartsAt       time.Time   `json:"starts_at" format:"date-time"`
	EndsAt         time.Time   `json:"ends_at" format:"date-time"`
	SpotsNeeded    int         `json:"spots_needed"`
	SpotsRemaining int         `json:"spots_remaining"`
	Status         ShiftStatus `json:"status" enum:"Open,Filled,Cancelled"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"created_at" format:"date-time"`
	Claims         []*Claim    `json:"claims"`
}

// NewShift posts a shift. It must start after now and end after it starts.
func NewShift(id, poolID, description string, startsAt, endsAt time.Time, spotsNeeded int, now time.Time) (*Shift, error) {
	if !startsAt.After(now) {
		return nil, Invalid("shift must start in the future")
	}
	if !endsAt.After(startsAt) {
		return nil, Invalid("shift must end after it starts")
	}
	if spotsNeeded < 1 {
		return nil, Invalid("spots needed must be at least 1, got %d", spotsNeeded)
	}
	return &Shift{
		ID:             id,
		PoolID:         poolID,
		Description:    strings.TrimSpace(description),
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		SpotsNeeded:    spotsNeeded,
		SpotsRemaining: spotsNeeded,
		Status:         ShiftOpen,
		CreatedAt:      now,
	}, nil
}

// AcceptClaim takes one spot for casualID.
func (s *Shift) AcceptClaim(casualID string, now time.Time) (*Claim, error) {
	if !now.Before(s.StartsAt) {
		return nil, ErrAlreadyStarted
	}
	switch s.Status {
	case ShiftFilled:
		return nil, ErrAlreadyFilled
	case ShiftCancelled:
		return nil, ErrCancelled
	}
	if s.SpotsRemaining <= 0 {
		return nil, ErrNoSpotsRemaining
	}
	c := &Claim{
		ID:        newClaimID(),
		ShiftID:   s.ID,
		CasualID:  casualID,
		Status:    ClaimActive,
		ClaimedAt: now,
	}
	s.Claims = append(s.Claims, c)
	s.SpotsRemaining--
	if s.SpotsRemaining == 0 {
		s.Status = ShiftFilled
	}
	return c, nil
}

// ReleaseClaim gives back one spot after the caller has released a claim.
// A cancelled shift stays cancelled.
func (s *Shift) ReleaseClaim() error {
	if s.SpotsRemaining >= s.SpotsNeeded {
		return fmt.Errorf("shift %s: release with no spot taken", s.ID)
	}
	s.SpotsRemaining++
	if s.Status == ShiftFilled {
		s.Status = ShiftOpen
	}
	return nil
}

// ManagerRelease frees the casual's active claim on behalf of a pool admin.
func (s *Shift) ManagerRelease(casualID string, now time.Time) (*Claim, error) {
	c := s.ActiveClaimFor(casualID)
	if c == nil {
		return nil, ErrNoActiveClaim
	}
	c.release(ClaimReleasedByManager, now)
	if err := s.ReleaseClaim(); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel is terminal. It reports whether the status changed.
func (s *Shift) Cancel() bool {
	if s.Status == ShiftCancelled {
		return false
	}
	s.Status = ShiftCancelled
	return true
}

func (s *Shift) ActiveClaimFor(casualID string) *Claim {
	for _, c := range s.Claims {
		if c.CasualID == casualID && c.IsActive() {
			return c
		}
	}
	return nil
}

// ClaimsFor returns the casual's claims on this shift, sharing pointers with s.Claims.
func (s *Shift) ClaimsFor(casualID string) []*Claim {
	var out []*Claim
	for _, c := range s.Claims {
		if c.CasualID == casualID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Shift) ActiveClaims() []*Claim {
	var out []*Claim
	for _, c := range s.Claims {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// newClaimID returns a time-ordered id so claim history sorts by creation.
func newClaimID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CheckInvariants verifies the capacity accounting.
func (s *Shift) CheckInvariants() error {
	active := len(s.ActiveClaims())
	if s.SpotsRemaining+active != s.SpotsNeeded {
		return fmt.Errorf("shift %s: remaining %d + active %d != needed %d", s.ID, s.SpotsRemaining, active, s.SpotsNeeded)
	}
	if s.SpotsRemaining < 0 || s.SpotsRemaining > s.SpotsNeeded {
		return fmt.Errorf("shift %s: remaining %d out of range", s.ID, s.SpotsRemaining)
	}
	filled := s.SpotsRemaining == 0 && s.Status != ShiftCancelled
	if filled != (s.Status == ShiftFilled) {
		return fmt.Errorf("shift %s: status %s with %d remaining", s.ID, s.Status, s.SpotsRemaining)
	}
	seen := map[string]bool{}
	for _, c := range s.ActiveClaims() {
		if seen[c.CasualID] {
			return fmt.Errorf("shift %s: casual %s holds two active claims", s.ID, c.CasualID)
		}
		seen[c.CasualID] = true
	}
	return nil
}
