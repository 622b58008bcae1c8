package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewCasualRequiresNameAndPhone(t *testing.T) {
	if _, err := NewCasual("c", "p", " ", "123", t0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := NewCasual("c", "p", "Ann", "", t0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid phone, got %v", err)
	}
}

func TestClaimShiftRejectsOtherPool(t *testing.T) {
	s := newTestShift(t, 1)
	c := newTestCasual(t, "1")
	c.PoolID = "pool-2"
	if _, err := c.ClaimShift(s, t0); !errors.Is(err, ErrCrossResourceMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if s.SpotsRemaining != 1 || len(s.Claims) != 0 {
		t.Fatalf("shift mutated on rejected claim")
	}
}

func TestClaimShiftRejectsDuplicate(t *testing.T) {
	s := newTestShift(t, 3)
	c := newTestCasual(t, "1")
	if _, err := c.ClaimShift(s, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ClaimShift(s, t0); !errors.Is(err, ErrDuplicateActiveClaim) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if s.SpotsRemaining != 2 {
		t.Fatalf("remaining = %d", s.SpotsRemaining)
	}
}

func TestReclaimAfterSelfRelease(t *testing.T) {
	s := newTestShift(t, 1)
	c := newTestCasual(t, "1")
	if _, err := c.ClaimShift(s, t0); err != nil {
		t.Fatal(err)
	}
	released, err := c.ReleaseShift(s, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != ClaimReleasedBySelf {
		t.Fatalf("status = %s", released.Status)
	}
	if s.Status != ShiftOpen || s.SpotsRemaining != 1 {
		t.Fatalf("shift not reopened: %s %d", s.Status, s.SpotsRemaining)
	}
	if _, err := c.ReleaseShift(s, t0); !errors.Is(err, ErrNoActiveClaim) {
		t.Fatalf("expected no active claim, got %v", err)
	}
	again, err := c.ClaimShift(s, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if again.ID == released.ID {
		t.Fatalf("reclaim must create a new claim")
	}
	history := s.ClaimsFor(c.ID)
	if len(history) != 2 || history[0].Status != ClaimReleasedBySelf || history[1].Status != ClaimActive {
		t.Fatalf("unexpected history %+v", history)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestCasualSharesClaimsWithShift(t *testing.T) {
	s := newTestShift(t, 2)
	a := newTestCasual(t, "a")
	if _, err := a.ClaimShift(s, t0); err != nil {
		t.Fatal(err)
	}
	// a fresh casual instance hydrated from the shift sees the same claim
	reloaded := newTestCasual(t, "a")
	reloaded.Claims = s.ClaimsFor("a")
	if _, err := reloaded.ReleaseShift(s, t0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.ActiveClaimFor("a") != nil {
		t.Fatalf("shift still sees an active claim")
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}
