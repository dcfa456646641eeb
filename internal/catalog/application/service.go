package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/cadence/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
)

// publishAttempts bounds retries when two publishers race for the same version.
const publishAttempts = 3

// Service publishes and resolves plan versions.
type Service struct {
	plans  domain.Repository
	clock  sharedDomain.Clock
	logger *slog.Logger
}

// NewService creates a catalog service.
func NewService(plans domain.Repository, clock sharedDomain.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = sharedDomain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{plans: plans, clock: clock, logger: logger}
}

// PublishPlan stores spec as the next version of its plan id.
// Existing versions are never touched.
func (s *Service) PublishPlan(ctx context.Context, spec domain.PlanSpec) (*domain.Plan, error) {
	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		versions, err := s.plans.Versions(ctx, spec.ID)
		if err != nil {
			return nil, err
		}
		next := 1
		if n := len(versions); n > 0 {
			next = versions[n-1].Version() + 1
		}

		plan, err := domain.NewPlan(spec, next, s.clock.Now())
		if err != nil {
			return nil, err
		}

		err = s.plans.Insert(ctx, plan)
		if err == nil {
			s.logger.Info("plan published",
				"plan_id", plan.ID(),
				"version", plan.Version(),
				"cycle", plan.Cycle(),
				"price", plan.Price().String(),
			)
			return plan, nil
		}
		if !errors.Is(err, domain.ErrPlanVersionExists) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetPlan returns a pinned version.
func (s *Service) GetPlan(ctx context.Context, ref domain.PlanRef) (*domain.Plan, error) {
	return s.plans.Find(ctx, ref)
}

// Resolve returns the newest version of id with the given cycle.
// An empty cycle matches any.
func (s *Service) Resolve(ctx context.Context, id string, cycle domain.BillingCycle) (*domain.Plan, error) {
	versions, err := s.plans.Versions(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if cycle == "" || versions[i].Cycle() == cycle {
			return versions[i], nil
		}
	}
	if cycle == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, id)
	}
	return nil, fmt.Errorf("%w: %s (%s)", domain.ErrPlanNotFound, id, cycle)
}

// ListPlans returns the newest version of every plan.
func (s *Service) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	return s.plans.ListLatest(ctx)
}
