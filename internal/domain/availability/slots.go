package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
)

// SlotFinder turns resolved free time into concrete bookable slots on an
// alignment grid.
type SlotFinder struct {
	resolver *Resolver
	grid     time.Duration
	now      func() time.Time
}

func NewSlotFinder(resolver *Resolver, grid time.Duration) *SlotFinder {
	return &SlotFinder{resolver: resolver, grid: grid, now: time.Now}
}

// SlotQuery shapes a slot search. MinLeadTime drops candidates starting too
// soon for the caller to realistically attend.
type SlotQuery struct {
	ResourceID  uuid.UUID
	Window      interval.Interval
	Duration    time.Duration
	Count       int
	MinLeadTime time.Duration
}

func (q *SlotQuery) Validate() error {
	if q.ResourceID == uuid.Nil {
		return fmt.Errorf("resource_id is required")
	}
	if err := q.Window.Validate(); err != nil {
		return err
	}
	if q.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if q.Count < 1 {
		return fmt.Errorf("count must be >= 1")
	}
	if q.MinLeadTime < 0 {
		return fmt.Errorf("min lead time must not be negative")
	}
	return nil
}

// FindSlots returns up to Count grid-aligned candidate slots in
// chronological order. An empty result is a valid answer: the resource is
// simply booked out.
func (f *SlotFinder) FindSlots(ctx context.Context, q SlotQuery) ([]interval.Interval, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	free, err := f.resolver.Resolve(ctx, q.ResourceID, q.Window)
	if err != nil {
		return nil, err
	}

	earliest := f.now().Add(q.MinLeadTime)
	var slots []interval.Interval
	for _, iv := range free {
		start := iv.Start
		if start.Before(earliest) {
			start = earliest
		}
		start = alignUp(start, f.grid)
		for !start.Add(q.Duration).After(iv.End) {
			slots = append(slots, interval.Interval{Start: start, End: start.Add(q.Duration)})
			if len(slots) == q.Count {
				return slots, nil
			}
			start = start.Add(f.grid)
		}
	}
	return slots, nil
}

// alignUp rounds t up to the next grid boundary, measured from UTC
// midnight.
func alignUp(t time.Time, grid time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := t.Sub(midnight)
	aligned := offset.Truncate(grid)
	if aligned < offset {
		aligned += grid
	}
	return midnight.Add(aligned)
}
