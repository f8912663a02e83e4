// Package reminder schedules and dispatches appointment reminder
// notifications.
package reminder

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/platform/notification"
)

// Status is the delivery lifecycle state of a reminder record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Record is one scheduled reminder delivery for an appointment. Records are
// keyed by (appointment, offset, channel) so re-scheduling the same
// appointment is idempotent.
type Record struct {
	ID            uuid.UUID            `db:"id" json:"id"`
	AppointmentID uuid.UUID            `db:"appointment_id" json:"appointment_id"`
	Channel       notification.Channel `db:"channel" json:"channel"`
	OffsetMinutes int                  `db:"offset_minutes" json:"offset_minutes"`
	FireAt        time.Time            `db:"fire_at" json:"fire_at"`
	Status        Status               `db:"status" json:"status"`
	AttemptCount  int                  `db:"attempt_count" json:"attempt_count"`
	LastAttemptAt *time.Time           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}
