package domain

import (
	"strings"
	"time"
)

// Casual is a pool member who claims shifts. Claims holds the casual's claims
// on the shifts loaded in the current unit of work.
type Casual struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	Claims    []*Claim  `json:"-"`
}

func NewCasual(id, poolID, name, phone string, now time.Time) (*Casual, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" {
		return nil, Invalid("casual name is required")
	}
	if phone == "" {
		return nil, Invalid("casual phone is required")
	}
	return &Casual{ID: id, PoolID: poolID, Name: name, Phone: phone, CreatedAt: now}, nil
}

// ClaimShift checks pool membership and duplicate claims, then asks the shift for a spot.
func (c *Casual) ClaimShift(s *Shift, now time.Time) (*Claim, error) {
	if s.PoolID != c.PoolID {
		return nil, ErrCrossResourceMismatch
	}
	if c.activeClaimOn(s.ID) != nil {
		return nil, ErrDuplicateActiveClaim
	}
	claim, err := s.AcceptClaim(c.ID, now)
	if err != nil {
		return nil, err
	}
	c.Claims = append(c.Claims, claim)
	return claim, nil
}

// ReleaseShift gives up the casual's active claim on s.
func (c *Casual) ReleaseShift(s *Shift, now time.Time) (*Claim, error) {
	claim := c.activeClaimOn(s.ID)
	if claim == nil {
		return nil, ErrNoActiveClaim
	}
	claim.release(ClaimReleasedBySelf, now)
	if err := s.ReleaseClaim(); err != nil {
		return nil, err
	}
	return claim, nil
}

func (c *Casual) activeClaimOn(shiftID string) *Claim {
	for _, cl := range c.Claims {
		if cl.ShiftID == shiftID && cl.IsActive() {
			return cl
		}
	}
	return nil
}
