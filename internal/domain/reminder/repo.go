package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reminder record does not exist.
var ErrNotFound = errors.New("reminder not found")

// Repository is the persistence contract for reminder records.
type Repository interface {
	// Upsert inserts the record, keyed on (appointment_id, offset_minutes,
	// channel). Returns false when a record for that key already exists;
	// the existing record is left untouched.
	Upsert(ctx context.Context, rec *Record) (bool, error)

	// ListByAppointment returns all records for an appointment, soonest
	// fire time first.
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Record, error)

	// ListDue returns PENDING records with fire_at <= now, oldest fire
	// time first, up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// Claim marks one due PENDING record as attempted, incrementing its
	// attempt count and pushing fire_at to holdUntil in the same update so
	// the record leaves the due set. A concurrent claimant's fire_at check
	// then fails, so a record is never claimed twice for the same fire
	// time. Returns false when the record was already claimed, cancelled,
	// or is no longer due.
	Claim(ctx context.Context, id uuid.UUID, now, holdUntil time.Time) (bool, error)

	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkRetry keeps the record PENDING and pushes its fire time forward
	// after a failed delivery attempt.
	MarkRetry(ctx context.Context, id uuid.UUID, nextFire time.Time) error

	// MarkFailed records a terminal delivery failure.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// CancelByAppointment cancels all PENDING records for an appointment
	// and returns the number cancelled.
	CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
}
