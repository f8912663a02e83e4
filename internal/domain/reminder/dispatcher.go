package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/platform/notification"
)

// Notifier delivers a rendered template over a channel. The notification
// service satisfies it.
type Notifier interface {
	SendTemplate(ctx context.Context, ch notification.Channel, recipient, templateID string, data map[string]string) error
}

// DispatchStats summarizes one run of ProcessDue.
type DispatchStats struct {
	Processed int           `json:"processed"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"-"`
}

// Dispatcher delivers due reminders. A failed delivery is retried with a
// delay until the attempt cap is reached, then marked FAILED for good.
type Dispatcher struct {
	repo        Repository
	appts       AppointmentSource
	notifier    Notifier
	maxAttempts int
	retryDelay  time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(repo Repository, appts AppointmentSource, notifier Notifier, maxAttempts int, retryDelay time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		appts:       appts,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger.With().Str("component", "reminder_dispatcher").Logger(),
		now:         time.Now,
	}
}

// ProcessDue claims and delivers due reminders, oldest fire time first, up to
// maxBatch records. Each record is handled independently; one failing
// delivery never blocks the rest of the batch.
func (d *Dispatcher) ProcessDue(ctx context.Context, maxBatch int) (DispatchStats, error) {
	start := time.Now()
	now := d.now().UTC()

	due, err := d.repo.ListDue(ctx, now, maxBatch)
	if err != nil {
		return DispatchStats{}, fmt.Errorf("list due reminders: %w", err)
	}

	var stats DispatchStats
	for _, rec := range due {
		// The claim pushes fire_at forward, so the record is out of the
		// due set while delivery is in flight.
		claimed, err := d.repo.Claim(ctx, rec.ID, now, now.Add(d.retryDelay))
		if err != nil {
			d.logger.Error().Err(err).Str("reminder_id", rec.ID.String()).Msg("claim failed")
			continue
		}
		if !claimed {
			// Another dispatcher got there first, or the record was
			// cancelled between listing and claiming.
			continue
		}
		stats.Processed++

		switch d.deliver(ctx, rec, now) {
		case outcomeSent:
			stats.Sent++
		case outcomeFailed:
			stats.Failed++
		}
	}
	stats.Duration = time.Since(start)

	d.logger.Info().
		Int("processed", stats.Processed).
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Dur("duration", stats.Duration).
		Msg("reminder dispatch complete")
	return stats, nil
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// deliver attempts delivery of one claimed record. Records whose appointment
// is gone or no longer active are cancelled and count as neither sent nor
// failed.
func (d *Dispatcher) deliver(ctx context.Context, rec *Record, now time.Time) deliveryOutcome {
	appt, err := d.appts.GetByID(ctx, rec.AppointmentID)
	if err != nil || !appt.IsActive() {
		if _, cerr := d.repo.CancelByAppointment(ctx, rec.AppointmentID); cerr != nil {
			d.logger.Error().Err(cerr).Str("appointment_id", rec.AppointmentID.String()).
				Msg("cancel stale reminders failed")
		}
		return outcomeSkipped
	}

	loc, lerr := time.LoadLocation(appt.Timezone)
	if lerr != nil {
		loc = time.UTC
	}
	local := appt.StartTime.In(loc)
	data := map[string]string{
		"type": appt.Type,
		"date": local.Format("2006-01-02"),
		"time": local.Format("15:04"),
	}

	sendErr := d.notifier.SendTemplate(ctx, rec.Channel, appt.SubjectPartyID.String(), "appointment-reminder", data)
	if sendErr == nil {
		if err := d.repo.MarkSent(ctx, rec.ID, now); err != nil {
			d.logger.Error().Err(err).Str("reminder_id", rec.ID.String()).Msg("mark sent failed")
		}
		return outcomeSent
	}

	attempts := rec.AttemptCount + 1
	if attempts >= d.maxAttempts {
		if err := d.repo.MarkFailed(ctx, rec.ID); err != nil {
			d.logger.Error().Err(err).Str("reminder_id", rec.ID.String()).Msg("mark failed failed")
		}
		d.logger.Warn().Err(sendErr).
			Str("reminder_id", rec.ID.String()).
			Int("attempts", attempts).
			Msg("reminder delivery failed permanently")
		return outcomeFailed
	}

	if err := d.repo.MarkRetry(ctx, rec.ID, now.Add(d.retryDelay)); err != nil {
		d.logger.Error().Err(err).Str("reminder_id", rec.ID.String()).Msg("mark retry failed")
	}
	d.logger.Warn().Err(sendErr).
		Str("reminder_id", rec.ID.String()).
		Int("attempts", attempts).
		Msg("reminder delivery failed, will retry")
	return outcomeFailed
}
