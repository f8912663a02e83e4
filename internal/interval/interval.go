// Package interval implements half-open time interval arithmetic. An
// interval covers [Start, End): the start instant belongs to it, the end
// instant does not, so back-to-back intervals share a boundary without
// overlapping.
package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidRange is returned when an interval's start is not strictly
// before its end.
var ErrInvalidRange = errors.New("interval start must be before end")

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a validated interval.
func New(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func (iv Interval) Validate() error {
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidRange,
			iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}
	return nil
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether the two intervals share any instant. Touching
// boundaries do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether t falls inside the interval. The end instant is
// excluded.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Intersect returns the overlap of a and b. ok is false when they are
// disjoint or merely touching.
func Intersect(a, b Interval) (Interval, bool) {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if !start.Before(end) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Subtract removes every cut from base and returns the remaining pieces in
// chronological order. Cuts may overlap each other and need not be sorted.
// Subtracting nothing returns base itself.
func Subtract(base Interval, cuts []Interval) []Interval {
	remaining := []Interval{base}
	for _, cut := range cuts {
		var next []Interval
		for _, piece := range remaining {
			if !piece.Overlaps(cut) {
				next = append(next, piece)
				continue
			}
			if piece.Start.Before(cut.Start) {
				next = append(next, Interval{Start: piece.Start, End: cut.Start})
			}
			if cut.End.Before(piece.End) {
				next = append(next, Interval{Start: cut.End, End: piece.End})
			}
		}
		remaining = next
	}
	return remaining
}

// Merge coalesces overlapping and adjacent intervals into a minimal sorted
// set. The input is not modified.
func Merge(ivs []Interval) []Interval {
	if len(ivs) <= 1 {
		return append([]Interval(nil), ivs...)
	}

	sorted := append([]Interval(nil), ivs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// SubtractAll removes cuts from every base interval and merges the result.
func SubtractAll(bases []Interval, cuts []Interval) []Interval {
	var out []Interval
	for _, base := range bases {
		out = append(out, Subtract(base, cuts)...)
	}
	return Merge(out)
}
