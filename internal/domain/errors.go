package domain

import "fmt"

// Kind classifies a synchronous rejection.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindAlreadyStarted        Kind = "already_started"
	KindAlreadyFilled         Kind = "already_filled"
	KindCancelled             Kind = "cancelled"
	KindNoSpotsRemaining      Kind = "no_spots_remaining"
	KindNoActiveClaim         Kind = "no_active_claim"
	KindDuplicateActiveClaim  Kind = "duplicate_active_claim"
	KindCrossResourceMismatch Kind = "cross_resource_mismatch"
)

// IsValidation reports whether the kind describes bad input rather than a business rule.
func (k Kind) IsValidation() bool { return k == KindInvalidInput }

// Rejection is returned by aggregate operations that refuse a request.
// errors.Is matches any two rejections of the same kind.
type Rejection struct {
	Kind   Kind
	Reason string
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return string(r.Kind)
	}
	return r.Reason
}

func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

var (
	ErrInvalidInput          = &Rejection{Kind: KindInvalidInput, Reason: "invalid input"}
	ErrAlreadyStarted        = &Rejection{Kind: KindAlreadyStarted, Reason: "shift has already started"}
	ErrAlreadyFilled         = &Rejection{Kind: KindAlreadyFilled, Reason: "shift is already filled"}
	ErrCancelled             = &Rejection{Kind: KindCancelled, Reason: "shift is cancelled"}
	ErrNoSpotsRemaining      = &Rejection{Kind: KindNoSpotsRemaining, Reason: "no spots remaining"}
	ErrNoActiveClaim         = &Rejection{Kind: KindNoActiveClaim, Reason: "no active claim for this shift"}
	ErrDuplicateActiveClaim  = &Rejection{Kind: KindDuplicateActiveClaim, Reason: "shift already claimed"}
	ErrCrossResourceMismatch = &Rejection{Kind: KindCrossResourceMismatch, Reason: "shift belongs to another pool"}
)

func reject(kind Kind, format string, args ...any) error {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Invalid builds an invalid-input rejection.
func Invalid(format string, args ...any) error {
	return reject(KindInvalidInput, format, args...)
}
