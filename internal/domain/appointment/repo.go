package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
)

// ListFilter narrows appointment listings. Zero values mean "any".
type ListFilter struct {
	ResourceID     uuid.UUID
	SubjectPartyID uuid.UUID
	CounterpartyID uuid.UUID
	From           time.Time
	To             time.Time
	Status         Status
}

// Repository is the persistence surface for appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)

	// CountActiveOverlapping counts PENDING/CONFIRMED appointments on the
	// resource whose interval overlaps iv, excluding the given appointment
	// ID when exclude is non-nil (used by reschedule).
	CountActiveOverlapping(ctx context.Context, resourceID uuid.UUID, iv interval.Interval, exclude *uuid.UUID) (int, error)

	// ActiveIntervals returns the occupancy intervals of PENDING/CONFIRMED
	// appointments on the resource overlapping the window, one per booking.
	ActiveIntervals(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error)

	// ListConfirmedEndedBefore returns CONFIRMED appointments whose end time
	// is at or before the cutoff, for no-show detection.
	ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Appointment, error)

	// ListActiveStartingBetween returns PENDING/CONFIRMED appointments
	// starting inside the window, for the reminder scheduling sweep.
	ListActiveStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]*Appointment, error)
}
