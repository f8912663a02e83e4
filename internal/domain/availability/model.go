package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
)

// Rule is a standing weekly availability window for a resource, expressed
// in minutes from UTC midnight. Capacity is how many concurrent bookings
// the window admits.
type Rule struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	ResourceID  uuid.UUID    `db:"resource_id" json:"resource_id"`
	Weekday     time.Weekday `db:"weekday" json:"weekday"`
	StartMinute int          `db:"start_minute" json:"start_minute"`
	EndMinute   int          `db:"end_minute" json:"end_minute"`
	Capacity    int          `db:"capacity" json:"capacity"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

const minutesPerDay = 24 * 60

func (r *Rule) Validate() error {
	if r.ResourceID == uuid.Nil {
		return fmt.Errorf("resource_id is required")
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("weekday must be 0-6, got %d", r.Weekday)
	}
	if r.StartMinute < 0 || r.StartMinute >= minutesPerDay {
		return fmt.Errorf("start_minute must be within 0-%d, got %d", minutesPerDay-1, r.StartMinute)
	}
	if r.EndMinute <= r.StartMinute || r.EndMinute > minutesPerDay {
		return fmt.Errorf("end_minute must be after start_minute and at most %d, got %d", minutesPerDay, r.EndMinute)
	}
	if r.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1, got %d", r.Capacity)
	}
	return nil
}

// Occurrences expands the rule into concrete intervals over the window,
// one per matching UTC day.
func (r *Rule) Occurrences(window interval.Interval) []interval.Interval {
	day := time.Date(window.Start.Year(), window.Start.Month(), window.Start.Day(), 0, 0, 0, 0, time.UTC)
	var out []interval.Interval
	for ; day.Before(window.End); day = day.AddDate(0, 0, 1) {
		if day.Weekday() != r.Weekday {
			continue
		}
		occ := interval.Interval{
			Start: day.Add(time.Duration(r.StartMinute) * time.Minute),
			End:   day.Add(time.Duration(r.EndMinute) * time.Minute),
		}
		if occ.Overlaps(window) {
			out = append(out, occ)
		}
	}
	return out
}

// Blackout is an ad-hoc interval during which a resource accepts no
// bookings regardless of rules.
type Blackout struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ResourceID uuid.UUID `db:"resource_id" json:"resource_id"`
	StartTime  time.Time `db:"start_time" json:"start_time"`
	EndTime    time.Time `db:"end_time" json:"end_time"`
	Reason     string    `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (b *Blackout) Validate() error {
	if b.ResourceID == uuid.Nil {
		return fmt.Errorf("resource_id is required")
	}
	return b.Interval().Validate()
}

func (b *Blackout) Interval() interval.Interval {
	return interval.Interval{Start: b.StartTime, End: b.EndTime}
}
