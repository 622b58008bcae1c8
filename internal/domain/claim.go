package domain

import "time"

type ClaimStatus string

const (
	ClaimActive            ClaimStatus = "Active"
	ClaimReleasedBySelf    ClaimStatus = "ReleasedBySelf"
	ClaimReleasedByManager ClaimStatus = "ReleasedByManager"
)

// Claim records one casual holding one spot on a shift.
type Claim struct {
	ID         string      `json:"id"`
	ShiftID    string      `json:"shift_id"`
	CasualID   string      `json:"casual_id"`
	Status     ClaimStatus `json:"status" enum:"Active,ReleasedBySelf,ReleasedByManager"`
	ClaimedAt  time.Time   `json:"claimed_at" format:"date-time"`
	ReleasedAt *time.Time  `json:"released_at,omitempty" format:"date-time"`
}

func (c *Claim) IsActive() bool { return c.Status == ClaimActive }

// release is the only transition a claim makes; released claims are final.
func (c *Claim) release(status ClaimStatus, now time.Time) {
	c.Status = status
	at := now
	c.ReleasedAt = &at
}
