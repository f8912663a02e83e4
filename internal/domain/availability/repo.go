package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/carelink/scheduler/internal/interval"
)

var (
	ErrRuleNotFound     = errors.New("availability rule not found")
	ErrBlackoutNotFound = errors.New("blackout not found")
)

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	ListByResource(ctx context.Context, resourceID uuid.UUID) ([]*Rule, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type BlackoutRepository interface {
	Create(ctx context.Context, b *Blackout) error
	GetByID(ctx context.Context, id uuid.UUID) (*Blackout, error)
	ListOverlapping(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]*Blackout, error)
	AnyOverlapping(ctx context.Context, resourceID uuid.UUID, iv interval.Interval) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BookingSource exposes the occupancy of a resource without importing the
// appointment package. The appointment repository implements it.
type BookingSource interface {
	ActiveIntervals(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error)
}
