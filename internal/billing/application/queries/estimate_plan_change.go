package queries

import (
	"context"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/google/uuid"
)

// EstimatePlanChangeQuery prices a plan change without applying it.
type EstimatePlanChangeQuery struct {
	SubscriptionID uuid.UUID
	PlanID         string
	PlanVersion    int
	Cycle          catalog.BillingCycle
}

// EstimatePlanChangeHandler handles EstimatePlanChangeQuery.
type EstimatePlanChangeHandler struct {
	subs  domain.Repository
	plans Plans
	clock sharedDomain.Clock
}

// NewEstimatePlanChangeHandler creates the handler.
func NewEstimatePlanChangeHandler(subs domain.Repository, plans Plans, clock sharedDomain.Clock) *EstimatePlanChangeHandler {
	if clock == nil {
		clock = sharedDomain.SystemClock{}
	}
	return &EstimatePlanChangeHandler{subs: subs, plans: plans, clock: clock}
}

// Handle returns the credit, immediate charge and next billing amount.
func (h *EstimatePlanChangeHandler) Handle(ctx context.Context, q EstimatePlanChangeQuery) (*domain.PlanChangeEstimate, error) {
	sub, err := h.subs.Load(ctx, q.SubscriptionID)
	if err != nil {
		return nil, err
	}
	current, err := h.plans.GetPlan(ctx, sub.Plan())
	if err != nil {
		return nil, err
	}

	var target *catalog.Plan
	if q.PlanVersion > 0 {
		target, err = h.plans.GetPlan(ctx, catalog.PlanRef{ID: q.PlanID, Version: q.PlanVersion})
	} else {
		target, err = h.plans.Resolve(ctx, q.PlanID, q.Cycle)
	}
	if err != nil {
		return nil, err
	}

	estimate, err := domain.EstimatePlanChange(sub, current, target, h.clock.Now())
	if err != nil {
		return nil, err
	}
	return &estimate, nil
}
