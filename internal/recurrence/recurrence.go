// Package recurrence expands repetition patterns into concrete occurrence
// intervals. All calendar math happens in UTC; callers attach a display
// timezone elsewhere.
package recurrence

import (
	"fmt"
	"time"

	"github.com/carelink/scheduler/internal/interval"
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

var validFrequencies = map[Frequency]bool{
	Daily:   true,
	Weekly:  true,
	Monthly: true,
	Yearly:  true,
}

// Pattern describes how an anchor occurrence repeats. At most one of Count
// and Until may be set; with neither, repetition is unbounded and only the
// expansion window limits it.
type Pattern struct {
	Freq     Frequency `json:"freq"`
	Interval int       `json:"interval"`
	// ByWeekday restricts WEEKLY patterns to specific weekdays. Empty means
	// the anchor's weekday.
	ByWeekday []time.Weekday `json:"by_weekday,omitempty"`
	Count     *int           `json:"count,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	// ExceptionDates lists UTC dates (time of day ignored) whose occurrences
	// are skipped. A skipped occurrence still consumes one unit of the Count
	// budget.
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
}

func (p Pattern) Validate() error {
	if !validFrequencies[p.Freq] {
		return fmt.Errorf("invalid frequency %q", p.Freq)
	}
	if p.Interval < 1 {
		return fmt.Errorf("interval must be >= 1, got %d", p.Interval)
	}
	if len(p.ByWeekday) > 0 && p.Freq != Weekly {
		return fmt.Errorf("by_weekday requires WEEKLY frequency, got %s", p.Freq)
	}
	if p.Count != nil && p.Until != nil {
		return fmt.Errorf("count and until are mutually exclusive")
	}
	if p.Count != nil && *p.Count < 1 {
		return fmt.Errorf("count must be >= 1, got %d", *p.Count)
	}
	return nil
}

// horizon caps expansion of patterns with no end condition so that a huge
// query window cannot make Expand walk years of occurrences.
const horizon = 2 * 366 * 24 * time.Hour

// Expand returns every occurrence of the pattern anchored at anchor that
// overlaps the window, in chronological order. The anchor itself is the
// first occurrence; occurrences keep the anchor's duration. The same
// pattern, anchor and window always produce the same result.
func Expand(p Pattern, anchor interval.Interval, window interval.Interval) ([]interval.Interval, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := anchor.Validate(); err != nil {
		return nil, fmt.Errorf("anchor: %w", err)
	}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	hardStop := window.End
	if p.Count == nil && p.Until == nil {
		if capped := anchor.Start.Add(horizon); capped.Before(hardStop) {
			hardStop = capped
		}
	}

	exceptions := make(map[time.Time]bool, len(p.ExceptionDates))
	for _, d := range p.ExceptionDates {
		exceptions[dateOf(d)] = true
	}

	duration := anchor.Duration()
	fanOut := p.Freq == Weekly && len(p.ByWeekday) > 0
	var out []interval.Interval
	emitted := 0

	for cycle := 0; ; cycle++ {
		origin := cycleOrigin(p, anchor.Start, cycle)

		starts := []time.Time{origin}
		if fanOut {
			starts = weekdayStarts(origin, p.ByWeekday)
		}
		// Occurrence starts ascend across cycles, so once a whole cycle
		// begins at or past the stop instant nothing further can overlap
		// the window.
		if !starts[0].Before(hardStop) {
			break
		}

		done := false
		for _, start := range starts {
			if start.Before(anchor.Start) {
				continue
			}
			if p.Count != nil && emitted >= *p.Count {
				done = true
				break
			}
			if p.Until != nil && start.After(*p.Until) {
				done = true
				break
			}
			if !start.Before(hardStop) {
				done = true
				break
			}
			emitted++
			if exceptions[dateOf(start)] {
				continue
			}
			occ := interval.Interval{Start: start, End: start.Add(duration)}
			if occ.Overlaps(window) {
				out = append(out, occ)
			}
		}
		if done {
			break
		}
	}

	return out, nil
}

// cycleOrigin returns the start of the nth repetition cycle.
func cycleOrigin(p Pattern, anchorStart time.Time, cycle int) time.Time {
	n := cycle * p.Interval
	switch p.Freq {
	case Daily:
		return anchorStart.AddDate(0, 0, n)
	case Weekly:
		return anchorStart.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonthsClamped(anchorStart, n)
	default: // Yearly
		return addMonthsClamped(anchorStart, 12*n)
	}
}

// addMonthsClamped advances by whole months keeping the day-of-month,
// clamping to the target month's last day (Jan 31 + 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month(), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, months, 0)
	day := t.Day()
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// weekdayStarts lists the occurrence starts inside the week containing
// origin, one per requested weekday, at the origin's time of day. Weeks
// start Monday, matching how availability rules are defined.
func weekdayStarts(origin time.Time, weekdays []time.Weekday) []time.Time {
	offset := (int(origin.Weekday()) + 6) % 7
	weekStart := origin.AddDate(0, 0, -offset)

	wanted := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		wanted[wd] = true
	}

	var starts []time.Time
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		if wanted[day.Weekday()] {
			starts = append(starts, day)
		}
	}
	return starts
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
