package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/interval"
	"github.com/carelink/scheduler/internal/recurrence"
)

// RuleSource reports how many concurrent bookings the resource's standing
// availability allows over an interval. Zero means the interval is not
// covered by any rule.
type RuleSource interface {
	CapacityFor(ctx context.Context, resourceID uuid.UUID, iv interval.Interval) (int, error)
}

// BlackoutSource reports whether any blackout overlaps the interval.
type BlackoutSource interface {
	AnyOverlapping(ctx context.Context, resourceID uuid.UUID, iv interval.Interval) (bool, error)
}

// ReminderPlanner is implemented by the reminder scheduler. Booking creates
// reminders; cancellation and reschedule retire the pending ones.
type ReminderPlanner interface {
	ScheduleFor(ctx context.Context, appointmentID uuid.UUID, startTime time.Time) (int, error)
	CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
}

// TxRunner runs fn atomically. The production runner opens a serializable
// database transaction; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// BookingResult carries the created series: the booked appointment and, for
// recurring requests, its materialized instances.
type BookingResult struct {
	Appointment *Appointment   `json:"appointment"`
	Instances   []*Appointment `json:"instances,omitempty"`
}

// recurrenceHorizon bounds how far ahead a recurring booking materializes
// instances.
const recurrenceHorizon = 2 * 366 * 24 * time.Hour

type Service struct {
	repo      Repository
	rules     RuleSource
	blackouts BlackoutSource
	reminders ReminderPlanner
	inTx      TxRunner
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, rules RuleSource, blackouts BlackoutSource, reminders ReminderPlanner, inTx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		rules:     rules,
		blackouts: blackouts,
		reminders: reminders,
		inTx:      inTx,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) validateRequest(req *BookingRequest) error {
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}
	if req.ResourceID == uuid.Nil {
		return fmt.Errorf("resource_id is required")
	}
	if req.SubjectPartyID == uuid.Nil {
		return fmt.Errorf("subject_party_id is required")
	}
	if req.CounterpartyID == uuid.Nil {
		return fmt.Errorf("counterparty_id is required")
	}
	iv := interval.Interval{Start: req.StartTime, End: req.EndTime}
	if err := iv.Validate(); err != nil {
		return err
	}
	if req.StartTime.Before(s.now()) {
		return fmt.Errorf("start_time must be in the future")
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return fmt.Errorf("recurrence: %w", err)
		}
	}
	return nil
}

// Book validates the request, re-checks conflicts inside a transaction and
// creates the appointment (or series) in PENDING status with its reminders.
// A lost race against a concurrent booking surfaces as a slot_unavailable
// conflict, never as a double booking.
func (s *Service) Book(ctx context.Context, req *BookingRequest) (*BookingResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	occurrences := []interval.Interval{{Start: req.StartTime, End: req.EndTime}}
	if req.Recurrence != nil {
		window := interval.Interval{Start: req.StartTime, End: req.StartTime.Add(recurrenceHorizon)}
		expanded, err := recurrence.Expand(*req.Recurrence, occurrences[0], window)
		if err != nil {
			return nil, fmt.Errorf("expand recurrence: %w", err)
		}
		occurrences = expanded
	}

	var result *BookingResult
	book := func(txCtx context.Context) error {
		for _, occ := range occurrences {
			if err := s.checkConflicts(txCtx, req.ResourceID, occ, nil); err != nil {
				return err
			}
		}

		parent := &Appointment{
			Type:           req.Type,
			Status:         StatusPending,
			StartTime:      occurrences[0].Start,
			EndTime:        occurrences[0].End,
			Timezone:       req.Timezone,
			SubjectPartyID: req.SubjectPartyID,
			CounterpartyID: req.CounterpartyID,
			ResourceID:     req.ResourceID,
			Recurrence:     req.Recurrence,
			Notes:          req.Notes,
		}
		if err := s.repo.Create(txCtx, parent); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if _, err := s.reminders.ScheduleFor(txCtx, parent.ID, parent.StartTime); err != nil {
			return fmt.Errorf("schedule reminders: %w", err)
		}

		var instances []*Appointment
		for i, occ := range occurrences[1:] {
			seq := i + 1
			inst := &Appointment{
				Type:                req.Type,
				Status:              StatusPending,
				StartTime:           occ.Start,
				EndTime:             occ.End,
				Timezone:            req.Timezone,
				SubjectPartyID:      req.SubjectPartyID,
				CounterpartyID:      req.CounterpartyID,
				ResourceID:          req.ResourceID,
				ParentAppointmentID: &parent.ID,
				SequenceIndex:       &seq,
				Notes:               req.Notes,
			}
			if err := s.repo.Create(txCtx, inst); err != nil {
				return fmt.Errorf("create instance %d: %w", seq, err)
			}
			if _, err := s.reminders.ScheduleFor(txCtx, inst.ID, inst.StartTime); err != nil {
				return fmt.Errorf("schedule reminders for instance %d: %w", seq, err)
			}
			instances = append(instances, inst)
		}

		result = &BookingResult{Appointment: parent, Instances: instances}
		return nil
	}

	if err := s.inTx(ctx, book); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", result.Appointment.ID.String()).
		Str("resource_id", req.ResourceID.String()).
		Int("instances", len(result.Instances)).
		Time("start", result.Appointment.StartTime).
		Msg("appointment booked")
	return result, nil
}

// checkConflicts enforces the booking invariants for one occurrence:
// blackouts win over everything, then the interval must fall inside a
// standing rule with spare capacity.
func (s *Service) checkConflicts(ctx context.Context, resourceID uuid.UUID, iv interval.Interval, exclude *uuid.UUID) error {
	blacked, err := s.blackouts.AnyOverlapping(ctx, resourceID, iv)
	if err != nil {
		return fmt.Errorf("check blackouts: %w", err)
	}
	if blacked {
		return &ConflictError{Kind: KindResourceBlackedOut,
			Detail: fmt.Sprintf("resource is blacked out during %s", iv.Start.Format(time.RFC3339))}
	}

	capacity, err := s.rules.CapacityFor(ctx, resourceID, iv)
	if err != nil {
		return fmt.Errorf("resolve capacity: %w", err)
	}
	if capacity == 0 {
		return &ConflictError{Kind: KindSlotUnavailable,
			Detail: fmt.Sprintf("no availability rule covers %s", iv.Start.Format(time.RFC3339))}
	}

	occupied, err := s.repo.CountActiveOverlapping(ctx, resourceID, iv, exclude)
	if err != nil {
		return fmt.Errorf("count overlapping: %w", err)
	}
	if occupied >= capacity {
		if capacity == 1 {
			return &ConflictError{Kind: KindSlotUnavailable,
				Detail: fmt.Sprintf("slot at %s is taken", iv.Start.Format(time.RFC3339))}
		}
		return &ConflictError{Kind: KindCapacityExceeded,
			Detail: fmt.Sprintf("capacity %d reached at %s", capacity, iv.Start.Format(time.RFC3339))}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status %q", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Confirm moves a PENDING appointment to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, func(*Appointment) {})
}

// Cancel retires an active appointment and cascades to its pending
// reminders.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.transition(ctx, id, StatusCancelled, func(a *Appointment) {
		now := s.now()
		a.CancelReason = reason
		a.CancelledAt = &now
	})
	if err != nil {
		return nil, err
	}
	cancelled, err := s.reminders.CancelByAppointment(ctx, id)
	if err != nil {
		// The appointment is already cancelled; a failed cascade only means
		// the dispatcher will skip these reminders when it sees the status.
		s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("cancel reminders failed")
	} else if cancelled > 0 {
		s.logger.Info().Str("appointment_id", id.String()).Int("reminders", cancelled).Msg("reminders cancelled")
	}
	return a, nil
}

// Complete closes out a CONFIRMED appointment after it has ended.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, func(a *Appointment) {
		a.CompletionNotes = notes
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, mutate func(*Appointment)) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Transition(to, s.now()); err != nil {
		return nil, err
	}
	mutate(a)
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Reschedule moves an active appointment to a new time after re-running the
// conflict check, then replaces its pending reminders.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*Appointment, error) {
	iv, err := interval.New(newStart, newEnd)
	if err != nil {
		return nil, err
	}
	if newStart.Before(s.now()) {
		return nil, fmt.Errorf("start_time must be in the future")
	}

	var moved *Appointment
	err = s.inTx(ctx, func(txCtx context.Context) error {
		a, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if !a.IsActive() {
			return &TransitionError{From: a.Status, To: a.Status}
		}
		if err := s.checkConflicts(txCtx, a.ResourceID, iv, &a.ID); err != nil {
			return err
		}
		a.StartTime = newStart
		a.EndTime = newEnd
		if err := s.repo.Update(txCtx, a); err != nil {
			return err
		}
		if _, err := s.reminders.CancelByAppointment(txCtx, a.ID); err != nil {
			return fmt.Errorf("cancel reminders: %w", err)
		}
		if _, err := s.reminders.ScheduleFor(txCtx, a.ID, a.StartTime); err != nil {
			return fmt.Errorf("reschedule reminders: %w", err)
		}
		moved = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", id.String()).Time("start", newStart).Msg("appointment rescheduled")
	return moved, nil
}

// noShowBatchLimit bounds one detection sweep.
const noShowBatchLimit = 500

// DetectAndMarkNoShows marks CONFIRMED appointments that ended at least
// grace ago as NO_SHOW. Each row commits on its own; one bad row never
// blocks the sweep. Already-marked rows are filtered by status, so repeated
// sweeps are idempotent. Returns the number marked.
func (s *Service) DetectAndMarkNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	candidates, err := s.repo.ListConfirmedEndedBefore(ctx, cutoff, noShowBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list no-show candidates: %w", err)
	}

	marked := 0
	for _, a := range candidates {
		if err := a.Transition(StatusNoShow, s.now()); err != nil {
			// Status changed between list and mark; skip.
			continue
		}
		if err := s.repo.Update(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("mark no-show failed")
			continue
		}
		marked++
	}

	if marked > 0 {
		s.logger.Info().Int("marked", marked).Dur("grace", grace).Msg("no-show sweep")
	}
	return marked, nil
}
