package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/domain/appointment"
	"github.com/carelink/scheduler/internal/platform/notification"
)

// AppointmentSource supplies the appointment data the reminder pipeline
// needs. The appointment repository satisfies it.
type AppointmentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListActiveStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]*appointment.Appointment, error)
}

// SweepStats summarizes one run of ScheduleUpcoming.
type SweepStats struct {
	Scheduled       int           `json:"scheduled"`
	Scanned         int           `json:"scanned"`
	SkippedExisting int           `json:"skipped_existing"`
	Duration        time.Duration `json:"-"`
}

// Scheduler materializes reminder records for appointments at the configured
// offsets before their start time.
type Scheduler struct {
	repo     Repository
	appts    AppointmentSource
	offsets  []time.Duration
	channels []notification.Channel
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScheduler constructs a Scheduler. Offsets are how long before an
// appointment's start each reminder fires; channels is the set of delivery
// channels a record is created for per offset.
func NewScheduler(repo Repository, appts AppointmentSource, offsets []time.Duration, channels []notification.Channel, logger zerolog.Logger) *Scheduler {
	if len(channels) == 0 {
		channels = []notification.Channel{notification.ChannelEmail}
	}
	return &Scheduler{
		repo:     repo,
		appts:    appts,
		offsets:  offsets,
		channels: channels,
		logger:   logger.With().Str("component", "reminder_scheduler").Logger(),
		now:      time.Now,
	}
}

// ScheduleFor creates reminder records for a single appointment. Offsets
// whose fire time is already in the past are skipped. Returns the number of
// records created; existing records for the same key are left untouched.
func (s *Scheduler) ScheduleFor(ctx context.Context, appointmentID uuid.UUID, startTime time.Time) (int, error) {
	created, _, err := s.schedule(ctx, appointmentID, startTime)
	return created, err
}

// CancelByAppointment cancels all pending reminders for an appointment.
func (s *Scheduler) CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	return s.repo.CancelByAppointment(ctx, appointmentID)
}

// ScheduleUpcoming scans active appointments starting within the window and
// materializes any missing reminder records. Safe to run repeatedly; records
// that already exist are counted as skipped.
func (s *Scheduler) ScheduleUpcoming(ctx context.Context, window time.Duration, limit int) (SweepStats, error) {
	start := time.Now()
	now := s.now().UTC()

	appts, err := s.appts.ListActiveStartingBetween(ctx, now, now.Add(window), limit)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list upcoming appointments: %w", err)
	}

	var stats SweepStats
	for _, a := range appts {
		stats.Scanned++
		created, skipped, err := s.schedule(ctx, a.ID, a.StartTime)
		if err != nil {
			return stats, fmt.Errorf("schedule reminders for %s: %w", a.ID, err)
		}
		stats.Scheduled += created
		stats.SkippedExisting += skipped
	}
	stats.Duration = time.Since(start)

	s.logger.Info().
		Int("scanned", stats.Scanned).
		Int("scheduled", stats.Scheduled).
		Int("skipped_existing", stats.SkippedExisting).
		Dur("duration", stats.Duration).
		Msg("reminder sweep complete")
	return stats, nil
}

func (s *Scheduler) schedule(ctx context.Context, appointmentID uuid.UUID, startTime time.Time) (created, skipped int, err error) {
	now := s.now().UTC()
	for _, offset := range s.offsets {
		fireAt := startTime.Add(-offset)
		if !fireAt.After(now) {
			continue
		}
		for _, ch := range s.channels {
			rec := &Record{
				AppointmentID: appointmentID,
				Channel:       ch,
				OffsetMinutes: int(offset / time.Minute),
				FireAt:        fireAt,
				Status:        StatusPending,
			}
			inserted, err := s.repo.Upsert(ctx, rec)
			if err != nil {
				return created, skipped, err
			}
			if inserted {
				created++
			} else {
				skipped++
			}
		}
	}
	return created, skipped, nil
}
