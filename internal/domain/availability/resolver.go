package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
)

// Resolver computes the free time of a resource: standing rules, minus
// active bookings (counted against rule capacity), minus blackouts.
type Resolver struct {
	rules     RuleRepository
	blackouts BlackoutRepository
	bookings  BookingSource
}

func NewResolver(rules RuleRepository, blackouts BlackoutRepository, bookings BookingSource) *Resolver {
	return &Resolver{rules: rules, blackouts: blackouts, bookings: bookings}
}

// Resolve returns the merged free intervals of the resource inside the
// window, sorted ascending. A window slice stays free until overlapping
// active bookings reach the covering rule's capacity.
func (r *Resolver) Resolve(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	rules, err := r.rules.ListByResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	bookings, err := r.bookings.ActiveIntervals(ctx, resourceID, window)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	blackouts, err := r.blackouts.ListOverlapping(ctx, resourceID, window)
	if err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}
	blackoutIvs := make([]interval.Interval, 0, len(blackouts))
	for _, b := range blackouts {
		blackoutIvs = append(blackoutIvs, b.Interval())
	}

	var free []interval.Interval
	for _, rule := range rules {
		for _, occ := range rule.Occurrences(window) {
			clipped, ok := interval.Intersect(occ, window)
			if !ok {
				continue
			}
			cuts := append(fullIntervals(clipped, bookings, rule.Capacity), blackoutIvs...)
			free = append(free, interval.Subtract(clipped, cuts)...)
		}
	}

	return interval.Merge(free), nil
}

// fullIntervals returns the slices of the rule occurrence where overlapping
// bookings have reached capacity, via a boundary sweep over booking edges.
func fullIntervals(occ interval.Interval, bookings []interval.Interval, capacity int) []interval.Interval {
	type edge struct {
		at    time.Time
		delta int
	}
	var edges []edge
	for _, b := range bookings {
		clipped, ok := interval.Intersect(b, occ)
		if !ok {
			continue
		}
		edges = append(edges, edge{at: clipped.Start, delta: 1}, edge{at: clipped.End, delta: -1})
	}
	if len(edges) == 0 {
		return nil
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			// Process departures first so a booking ending exactly when
			// another starts does not read as double occupancy.
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	var full []interval.Interval
	occupancy := 0
	var fullSince time.Time
	for _, e := range edges {
		wasFull := occupancy >= capacity
		occupancy += e.delta
		isFull := occupancy >= capacity
		if !wasFull && isFull {
			fullSince = e.at
		}
		if wasFull && !isFull {
			full = append(full, interval.Interval{Start: fullSince, End: e.at})
		}
	}
	return full
}

// CapacityFor returns the capacity admitting a prospective booking over iv:
// the highest capacity among rule occurrences that fully contain it. Zero
// means no rule covers the interval.
func (r *Resolver) CapacityFor(ctx context.Context, resourceID uuid.UUID, iv interval.Interval) (int, error) {
	rules, err := r.rules.ListByResource(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}

	// Pad the lookup window a day each way so occurrences straddling
	// midnight are not missed.
	window := interval.Interval{Start: iv.Start.AddDate(0, 0, -1), End: iv.End.AddDate(0, 0, 1)}

	capacity := 0
	for _, rule := range rules {
		for _, occ := range rule.Occurrences(window) {
			if !occ.Start.After(iv.Start) && !occ.End.Before(iv.End) && rule.Capacity > capacity {
				capacity = rule.Capacity
			}
		}
	}
	return capacity, nil
}
