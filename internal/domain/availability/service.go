package availability

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/interval"
)

// Service fronts rule and blackout management plus availability queries.
type Service struct {
	rules     RuleRepository
	blackouts BlackoutRepository
	resolver  *Resolver
	finder    *SlotFinder
	logger    zerolog.Logger
}

func NewService(rules RuleRepository, blackouts BlackoutRepository, resolver *Resolver, finder *SlotFinder, logger zerolog.Logger) *Service {
	return &Service{
		rules:     rules,
		blackouts: blackouts,
		resolver:  resolver,
		finder:    finder,
		logger:    logger,
	}
}

func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.rules.Create(ctx, r); err != nil {
		return err
	}
	s.logger.Info().
		Str("rule_id", r.ID.String()).
		Str("resource_id", r.ResourceID.String()).
		Int("weekday", int(r.Weekday)).
		Msg("availability rule created")
	return nil
}

func (s *Service) ListRules(ctx context.Context, resourceID uuid.UUID) ([]*Rule, error) {
	return s.rules.ListByResource(ctx, resourceID)
}

func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.Delete(ctx, id)
}

func (s *Service) CreateBlackout(ctx context.Context, b *Blackout) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := s.blackouts.Create(ctx, b); err != nil {
		return err
	}
	s.logger.Info().
		Str("blackout_id", b.ID.String()).
		Str("resource_id", b.ResourceID.String()).
		Time("start", b.StartTime).
		Msg("blackout created")
	return nil
}

func (s *Service) ListBlackouts(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]*Blackout, error) {
	return s.blackouts.ListOverlapping(ctx, resourceID, window)
}

func (s *Service) DeleteBlackout(ctx context.Context, id uuid.UUID) error {
	return s.blackouts.Delete(ctx, id)
}

func (s *Service) Resolve(ctx context.Context, resourceID uuid.UUID, window interval.Interval) ([]interval.Interval, error) {
	return s.resolver.Resolve(ctx, resourceID, window)
}

func (s *Service) FindSlots(ctx context.Context, q SlotQuery) ([]interval.Interval, error) {
	return s.finder.FindSlots(ctx, q)
}
