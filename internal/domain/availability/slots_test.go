package availability

import (
	"context"
	"testing"
	"time"

	"github.com/carelink/scheduler/internal/interval"
)

func newFinderFixture(grid time.Duration, now time.Time) (*SlotFinder, *resolverFixture) {
	f := newResolverFixture()
	finder := NewSlotFinder(f.resolver, grid)
	finder.now = func() time.Time { return now }
	return finder, f
}

func TestFindSlots_GridAligned(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(0, 0))
	f.addRule(time.Monday, 9*60, 11*60, 1)

	slots, err := finder.FindSlots(context.Background(), SlotQuery{
		ResourceID: f.resourceID,
		Window:     mondayWindow(),
		Duration:   30 * time.Minute,
		Count:      3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []interval.Interval{
		{Start: monday(9, 0), End: monday(9, 30)},
		{Start: monday(9, 15), End: monday(9, 45)},
		{Start: monday(9, 30), End: monday(10, 0)},
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	for i, w := range want {
		if slots[i] != w {
			t.Errorf("slot %d: expected %v, got %v", i, w, slots[i])
		}
	}
}

func TestFindSlots_AlignsUpFromRaggedFreeTime(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(0, 0))
	f.addRule(time.Monday, 9*60, 11*60, 1)
	// A booking ending at 09:50 leaves free time starting off-grid.
	f.bookings.intervals = []interval.Interval{{Start: monday(9, 0), End: monday(9, 50)}}

	slots, err := finder.FindSlots(context.Background(), SlotQuery{
		ResourceID: f.resourceID,
		Window:     mondayWindow(),
		Duration:   30 * time.Minute,
		Count:      1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday(10, 0)) {
		t.Errorf("expected slot aligned up to 10:00, got %v", slots[0].Start)
	}
}

func TestFindSlots_MinLeadTimeDropsEarlySlots(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(9, 0))
	f.addRule(time.Monday, 9*60, 11*60, 1)

	slots, err := finder.FindSlots(context.Background(), SlotQuery{
		ResourceID:  f.resourceID,
		Window:      mondayWindow(),
		Duration:    30 * time.Minute,
		Count:       1,
		MinLeadTime: time.Hour,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday(10, 0)) {
		t.Errorf("expected first slot at 10:00 after lead time, got %v", slots[0].Start)
	}
}

func TestFindSlots_TooShortFreeIntervalSkipped(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(0, 0))
	// Only 20 minutes of availability; a 30-minute slot cannot fit.
	f.addRule(time.Monday, 9*60, 9*60+20, 1)

	slots, err := finder.FindSlots(context.Background(), SlotQuery{
		ResourceID: f.resourceID,
		Window:     mondayWindow(),
		Duration:   30 * time.Minute,
		Count:      5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %v", slots)
	}
}

func TestFindSlots_EmptyResultIsNotAnError(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(0, 0))
	f.addRule(time.Monday, 9*60, 10*60, 1)
	f.bookings.intervals = []interval.Interval{{Start: monday(9, 0), End: monday(10, 0)}}

	slots, err := finder.FindSlots(context.Background(), SlotQuery{
		ResourceID: f.resourceID,
		Window:     mondayWindow(),
		Duration:   30 * time.Minute,
		Count:      5,
	})
	if err != nil {
		t.Fatalf("booked-out resource should not error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %v", slots)
	}
}

func TestFindSlots_ValidatesQuery(t *testing.T) {
	finder, f := newFinderFixture(15*time.Minute, monday(0, 0))

	cases := []SlotQuery{
		{Window: mondayWindow(), Duration: 30 * time.Minute, Count: 1},                                                 // no resource
		{ResourceID: f.resourceID, Window: mondayWindow(), Count: 1},                                                   // no duration
		{ResourceID: f.resourceID, Window: mondayWindow(), Duration: 30 * time.Minute},                                 // no count
		{ResourceID: f.resourceID, Window: mondayWindow(), Duration: 30 * time.Minute, Count: 1, MinLeadTime: -time.Hour}, // negative lead
	}
	for i, q := range cases {
		if _, err := finder.FindSlots(context.Background(), q); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestAlignUp(t *testing.T) {
	grid := 15 * time.Minute
	if got := alignUp(monday(9, 0), grid); !got.Equal(monday(9, 0)) {
		t.Errorf("on-grid time should not move, got %v", got)
	}
	if got := alignUp(monday(9, 1), grid); !got.Equal(monday(9, 15)) {
		t.Errorf("expected 09:15, got %v", got)
	}
	if got := alignUp(monday(9, 59), grid); !got.Equal(monday(10, 0)) {
		t.Errorf("expected 10:00, got %v", got)
	}
}
