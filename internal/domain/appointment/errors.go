package appointment

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("appointment not found")

// ConflictKind names why a booking was refused.
type ConflictKind string

const (
	KindSlotUnavailable    ConflictKind = "slot_unavailable"
	KindCapacityExceeded   ConflictKind = "capacity_exceeded"
	KindResourceBlackedOut ConflictKind = "resource_blacked_out"
)

// ConflictError is returned when a booking loses to existing state: an
// occupied slot, a full capacity window, or a blackout.
type ConflictError struct {
	Kind   ConflictKind
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// IsConflict reports whether err is a booking conflict, returning it typed.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// TransitionError is returned when a status change violates the appointment
// lifecycle.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is a lifecycle violation.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
