package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/interval"
	"github.com/carelink/scheduler/internal/recurrence"
)

// mockRepo is an in-memory Repository guarded by a mutex so the booking
// race test can hammer it from multiple goroutines.
type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.ResourceID != uuid.Nil && a.ResourceID != f.ResourceID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) CountActiveOverlapping(_ context.Context, resourceID uuid.UUID, iv interval.Interval, exclude *uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.items {
		if a.ResourceID != resourceID || !a.IsActive() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Interval().Overlaps(iv) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ActiveIntervals(_ context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interval.Interval
	for _, a := range m.items {
		if a.ResourceID == resourceID && a.IsActive() && a.Interval().Overlaps(window) {
			out = append(out, a.Interval())
		}
	}
	return out, nil
}

func (m *mockRepo) ListConfirmedEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.Status == StatusConfirmed && !a.EndTime.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListActiveStartingBetween(_ context.Context, from, to time.Time, limit int) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.IsActive() && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockRules struct {
	capacity int
}

func (m *mockRules) CapacityFor(context.Context, uuid.UUID, interval.Interval) (int, error) {
	return m.capacity, nil
}

type mockBlackouts struct {
	blacked bool
}

func (m *mockBlackouts) AnyOverlapping(context.Context, uuid.UUID, interval.Interval) (bool, error) {
	return m.blacked, nil
}

type mockReminders struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]int
	cancelled map[uuid.UUID]int
}

func newMockReminders() *mockReminders {
	return &mockReminders{scheduled: make(map[uuid.UUID]int), cancelled: make(map[uuid.UUID]int)}
}

func (m *mockReminders) ScheduleFor(_ context.Context, id uuid.UUID, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled[id] += 2
	return 2, nil
}

func (m *mockReminders) CancelByAppointment(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[id]++
	return m.scheduled[id], nil
}

// passTx runs the function without a real transaction but serializes
// callers, mirroring what serializable isolation guarantees in production:
// check and insert observe one state of the world.
func passTx() TxRunner {
	var mu sync.Mutex
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx)
	}
}

type fixture struct {
	svc       *Service
	repo      *mockRepo
	rules     *mockRules
	blackouts *mockBlackouts
	reminders *mockReminders
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		rules:     &mockRules{capacity: 1},
		blackouts: &mockBlackouts{},
		reminders: newMockReminders(),
		now:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.rules, f.blackouts, f.reminders, passTx(), zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) request() *BookingRequest {
	return &BookingRequest{
		Type:           "consultation",
		StartTime:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		Timezone:       "America/New_York",
		SubjectPartyID: uuid.New(),
		CounterpartyID: uuid.New(),
		ResourceID:     uuid.New(),
	}
}

func TestBook_CreatesPendingWithReminders(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := result.Appointment
	if a.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", a.Status)
	}
	if a.ID == uuid.Nil {
		t.Error("expected an assigned ID")
	}
	if f.reminders.scheduled[a.ID] == 0 {
		t.Error("expected reminders to be scheduled")
	}
}

func TestBook_ValidationRejectsBadRequests(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name   string
		mutate func(*BookingRequest)
	}{
		{"missing type", func(r *BookingRequest) { r.Type = "" }},
		{"missing resource", func(r *BookingRequest) { r.ResourceID = uuid.Nil }},
		{"missing subject", func(r *BookingRequest) { r.SubjectPartyID = uuid.Nil }},
		{"missing counterparty", func(r *BookingRequest) { r.CounterpartyID = uuid.Nil }},
		{"inverted range", func(r *BookingRequest) { r.EndTime = r.StartTime.Add(-time.Hour) }},
		{"start in past", func(r *BookingRequest) {
			r.StartTime = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			r.EndTime = r.StartTime.Add(30 * time.Minute)
		}},
		{"bad recurrence interval", func(r *BookingRequest) {
			r.Recurrence = &recurrence.Pattern{Freq: recurrence.Weekly, Interval: 0}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request()
			tc.mutate(req)
			if _, err := f.svc.Book(context.Background(), req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBook_ConflictTaxonomy(t *testing.T) {
	f := newFixture()
	req := f.request()

	// Blackout wins over everything.
	f.blackouts.blacked = true
	_, err := f.svc.Book(context.Background(), req)
	if ce, ok := IsConflict(err); !ok || ce.Kind != KindResourceBlackedOut {
		t.Errorf("expected resource_blacked_out, got %v", err)
	}
	f.blackouts.blacked = false

	// Outside all rules.
	f.rules.capacity = 0
	_, err = f.svc.Book(context.Background(), req)
	if ce, ok := IsConflict(err); !ok || ce.Kind != KindSlotUnavailable {
		t.Errorf("expected slot_unavailable, got %v", err)
	}
	f.rules.capacity = 1

	// Occupied slot at capacity 1.
	if _, err := f.svc.Book(context.Background(), req); err != nil {
		t.Fatalf("first booking should succeed: %v", err)
	}
	second := f.request()
	second.ResourceID = req.ResourceID
	_, err = f.svc.Book(context.Background(), second)
	if ce, ok := IsConflict(err); !ok || ce.Kind != KindSlotUnavailable {
		t.Errorf("expected slot_unavailable, got %v", err)
	}
}

func TestBook_CountedCapacity(t *testing.T) {
	f := newFixture()
	f.rules.capacity = 2
	base := f.request()

	for i := 0; i < 2; i++ {
		req := f.request()
		req.ResourceID = base.ResourceID
		if _, err := f.svc.Book(context.Background(), req); err != nil {
			t.Fatalf("booking %d should succeed under capacity 2: %v", i+1, err)
		}
	}

	third := f.request()
	third.ResourceID = base.ResourceID
	_, err := f.svc.Book(context.Background(), third)
	if ce, ok := IsConflict(err); !ok || ce.Kind != KindCapacityExceeded {
		t.Errorf("expected capacity_exceeded, got %v", err)
	}
}

func TestBook_ConcurrentRaceYieldsOneWinner(t *testing.T) {
	f := newFixture()
	base := f.request()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.request()
			req.ResourceID = base.ResourceID
			_, errs[i] = f.svc.Book(context.Background(), req)
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			if ce, ok := IsConflict(err); ok && ce.Kind == KindSlotUnavailable {
				conflicts++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners)
	}
	if conflicts != racers-1 {
		t.Errorf("expected %d conflicts, got %d", racers-1, conflicts)
	}
}

func TestBook_RecurringSeries(t *testing.T) {
	f := newFixture()
	req := f.request()
	count := 4
	req.Recurrence = &recurrence.Pattern{Freq: recurrence.Weekly, Interval: 1, Count: &count}

	result, err := f.svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Instances) != 3 {
		t.Fatalf("expected 3 instances beyond the parent, got %d", len(result.Instances))
	}
	if result.Appointment.Recurrence == nil {
		t.Error("parent should carry the pattern")
	}
	for i, inst := range result.Instances {
		if inst.ParentAppointmentID == nil || *inst.ParentAppointmentID != result.Appointment.ID {
			t.Errorf("instance %d should reference the parent", i)
		}
		if inst.SequenceIndex == nil || *inst.SequenceIndex != i+1 {
			t.Errorf("instance %d: wrong sequence index", i)
		}
		if inst.Recurrence != nil {
			t.Errorf("instance %d should not carry the pattern", i)
		}
		wantStart := req.StartTime.AddDate(0, 0, 7*(i+1))
		if !inst.StartTime.Equal(wantStart) {
			t.Errorf("instance %d: expected start %v, got %v", i, wantStart, inst.StartTime)
		}
	}
}

func TestBook_OpenEndedSeriesBoundedByHorizon(t *testing.T) {
	f := newFixture()
	req := f.request()
	req.Recurrence = &recurrence.Pattern{Freq: recurrence.Weekly, Interval: 1}

	result, err := f.svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Instances) == 0 {
		t.Fatal("expected instances for an open-ended series")
	}

	horizon := req.StartTime.Add(recurrenceHorizon)
	last := result.Instances[len(result.Instances)-1]
	if !last.StartTime.Before(horizon) {
		t.Errorf("last instance starts at %v, beyond the horizon %v", last.StartTime, horizon)
	}
	// Weekly over the horizon means roughly one instance per week.
	if got := len(result.Instances); got < 100 || got > 110 {
		t.Errorf("instances = %d, want about two years of weekly occurrences", got)
	}
}

func TestBook_RecurringConflictFailsWholeSeries(t *testing.T) {
	f := newFixture()

	// Occupy the second weekly occurrence.
	blocker := f.request()
	blocker.StartTime = blocker.StartTime.AddDate(0, 0, 7)
	blocker.EndTime = blocker.EndTime.AddDate(0, 0, 7)
	if _, err := f.svc.Book(context.Background(), blocker); err != nil {
		t.Fatalf("blocker booking failed: %v", err)
	}

	req := f.request()
	req.ResourceID = blocker.ResourceID
	count := 3
	req.Recurrence = &recurrence.Pattern{Freq: recurrence.Weekly, Interval: 1, Count: &count}

	_, err := f.svc.Book(context.Background(), req)
	if _, ok := IsConflict(err); !ok {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Nothing from the failed series may be persisted.
	items, _, _ := f.repo.List(context.Background(), ListFilter{ResourceID: req.ResourceID}, 100, 0)
	if len(items) != 1 {
		t.Errorf("expected only the blocker to exist, got %d appointments", len(items))
	}
}

func TestCancel_CascadesToReminders(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result.Appointment.ID

	a, err := f.svc.Cancel(context.Background(), id, "patient request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", a.Status)
	}
	if a.CancelReason != "patient request" {
		t.Errorf("expected cancel reason to be stored, got %q", a.CancelReason)
	}
	if a.CancelledAt == nil {
		t.Error("expected cancelled_at to be set")
	}
	if f.reminders.cancelled[id] != 1 {
		t.Error("expected reminder cascade")
	}
}

func TestConfirmAndComplete(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result.Appointment.ID

	if _, err := f.svc.Confirm(context.Background(), id); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	// Completing before the end time violates the lifecycle.
	if _, err := f.svc.Complete(context.Background(), id, ""); !IsInvalidTransition(err) {
		t.Errorf("expected transition error, got %v", err)
	}

	f.now = result.Appointment.EndTime.Add(time.Minute)
	a, err := f.svc.Complete(context.Background(), id, "went well")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if a.CompletionNotes != "went well" {
		t.Errorf("expected completion notes, got %q", a.CompletionNotes)
	}
}

func TestReschedule_ReplacesReminders(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result.Appointment.ID

	newStart := result.Appointment.StartTime.Add(2 * time.Hour)
	newEnd := result.Appointment.EndTime.Add(2 * time.Hour)
	a, err := f.svc.Reschedule(context.Background(), id, newStart, newEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.StartTime.Equal(newStart) || !a.EndTime.Equal(newEnd) {
		t.Error("expected times to move")
	}
	if f.reminders.cancelled[id] != 1 {
		t.Error("expected old reminders cancelled")
	}
	if f.reminders.scheduled[id] != 4 {
		t.Errorf("expected reminders rescheduled, scheduled=%d", f.reminders.scheduled[id])
	}
}

func TestReschedule_KeepsOwnSlotOutOfConflictCheck(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Moving 15 minutes later overlaps the appointment's own old interval;
	// that must not read as a conflict.
	a := result.Appointment
	if _, err := f.svc.Reschedule(context.Background(), a.ID, a.StartTime.Add(15*time.Minute), a.EndTime.Add(15*time.Minute)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDetectAndMarkNoShows(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result.Appointment.ID
	if _, err := f.svc.Confirm(context.Background(), id); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	end := result.Appointment.EndTime

	// Within the grace period nothing is marked.
	f.now = end.Add(10 * time.Minute)
	marked, err := f.svc.DetectAndMarkNoShows(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked != 0 {
		t.Errorf("expected 0 marked within grace, got %d", marked)
	}

	// Past the grace period the appointment becomes a no-show.
	f.now = end.Add(31 * time.Minute)
	marked, err = f.svc.DetectAndMarkNoShows(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked != 1 {
		t.Errorf("expected 1 marked, got %d", marked)
	}

	a, _ := f.svc.Get(context.Background(), id)
	if a.Status != StatusNoShow {
		t.Errorf("expected NO_SHOW, got %s", a.Status)
	}

	// The sweep is idempotent.
	marked, err = f.svc.DetectAndMarkNoShows(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked != 0 {
		t.Errorf("second sweep should mark nothing, got %d", marked)
	}
}

func TestDetectAndMarkNoShows_SkipsCompleted(t *testing.T) {
	f := newFixture()
	result, err := f.svc.Book(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result.Appointment.ID
	if _, err := f.svc.Confirm(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	f.now = result.Appointment.EndTime.Add(time.Minute)
	if _, err := f.svc.Complete(context.Background(), id, ""); err != nil {
		t.Fatal(err)
	}

	f.now = result.Appointment.EndTime.Add(2 * time.Hour)
	marked, err := f.svc.DetectAndMarkNoShows(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked != 0 {
		t.Errorf("completed appointment must not be marked, got %d", marked)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
