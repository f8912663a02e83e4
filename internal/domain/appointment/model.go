package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
	"github.com/carelink/scheduler/internal/recurrence"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusCompleted: true,
	StatusNoShow:    true,
}

// ActiveStatuses are the statuses that occupy capacity on a resource.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// Appointment is a committed engagement between a subject party, a
// counterparty (e.g. a care provider) and a bookable resource. All instants
// are UTC; Timezone is the display timezone for rendering only.
type Appointment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Type           string    `db:"appointment_type" json:"type"`
	Status         Status    `db:"status" json:"status"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	Timezone       string    `db:"timezone" json:"timezone"`
	SubjectPartyID uuid.UUID `db:"subject_party_id" json:"subject_party_id"`
	CounterpartyID uuid.UUID `db:"counterparty_id" json:"counterparty_id"`
	ResourceID     uuid.UUID `db:"resource_id" json:"resource_id"`

	// Recurrence is set on the parent row of a recurring series. Instances
	// carry ParentAppointmentID and SequenceIndex instead.
	Recurrence          *recurrence.Pattern `db:"recurrence" json:"recurrence,omitempty"`
	ParentAppointmentID *uuid.UUID          `db:"parent_appointment_id" json:"parent_appointment_id,omitempty"`
	SequenceIndex       *int                `db:"sequence_index" json:"sequence_index,omitempty"`

	Notes           string     `db:"notes" json:"notes,omitempty"`
	CancelReason    string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletionNotes string     `db:"completion_notes" json:"completion_notes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Interval returns the appointment's occupancy as a half-open interval.
func (a *Appointment) Interval() interval.Interval {
	return interval.Interval{Start: a.StartTime, End: a.EndTime}
}

// IsActive reports whether the appointment still occupies its slot.
func (a *Appointment) IsActive() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Transition applies the appointment lifecycle. PENDING appointments can be
// confirmed or cancelled; CONFIRMED ones can be cancelled before they end,
// completed after they end, or marked NO_SHOW. Terminal statuses never
// change.
func (a *Appointment) Transition(to Status, now time.Time) error {
	switch to {
	case StatusConfirmed:
		if a.Status != StatusPending {
			return &TransitionError{From: a.Status, To: to}
		}
	case StatusCancelled:
		if !a.IsActive() || !now.Before(a.EndTime) {
			return &TransitionError{From: a.Status, To: to}
		}
	case StatusCompleted:
		if a.Status != StatusConfirmed || now.Before(a.EndTime) {
			return &TransitionError{From: a.Status, To: to}
		}
	case StatusNoShow:
		if a.Status != StatusConfirmed {
			return &TransitionError{From: a.Status, To: to}
		}
	default:
		return &TransitionError{From: a.Status, To: to}
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

// BookingRequest is the payload accepted by the booking coordinator.
type BookingRequest struct {
	Type           string              `json:"type"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        time.Time           `json:"end_time"`
	Timezone       string              `json:"timezone"`
	SubjectPartyID uuid.UUID           `json:"subject_party_id"`
	CounterpartyID uuid.UUID           `json:"counterparty_id"`
	ResourceID     uuid.UUID           `json:"resource_id"`
	Recurrence     *recurrence.Pattern `json:"recurrence,omitempty"`
	Notes          string              `json:"notes,omitempty"`
}
