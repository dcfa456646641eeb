package commands

import (
	"context"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/google/uuid"
)

// CreateSubscriptionCommand opens a subscription on the newest version of a plan.
type CreateSubscriptionCommand struct {
	AccountID uuid.UUID
	PlanID    string
	Cycle     catalog.BillingCycle
	// PlanVersion pins a specific version instead of the newest.
	PlanVersion int
	SkipTrial   bool
	ActorID     uuid.UUID
}

// CreateSubscriptionHandler handles CreateSubscriptionCommand.
type CreateSubscriptionHandler struct {
	mutator *Mutator
	plans   Plans
}

// NewCreateSubscriptionHandler creates the handler.
func NewCreateSubscriptionHandler(mutator *Mutator, plans Plans) *CreateSubscriptionHandler {
	return &CreateSubscriptionHandler{mutator: mutator, plans: plans}
}

// Handle resolves the plan and stores the new subscription.
func (h *CreateSubscriptionHandler) Handle(ctx context.Context, cmd CreateSubscriptionCommand) (*domain.Subscription, error) {
	var (
		plan *catalog.Plan
		err  error
	)
	if cmd.PlanVersion > 0 {
		plan, err = h.plans.GetPlan(ctx, catalog.PlanRef{ID: cmd.PlanID, Version: cmd.PlanVersion})
	} else {
		plan, err = h.plans.Resolve(ctx, cmd.PlanID, cmd.Cycle)
	}
	if err != nil {
		return nil, err
	}

	sub, err := domain.NewSubscription(domain.NewSubscriptionInput{
		ID:        uuid.New(),
		AccountID: cmd.AccountID,
		Plan:      plan,
		SkipTrial: cmd.SkipTrial,
	}, h.mutator.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := h.mutator.Create(ctx, sub, cmd.ActorID); err != nil {
		return nil, err
	}

	h.mutator.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID(),
		"account_id", sub.AccountID(),
		"plan", sub.Plan().String(),
		"status", sub.Status(),
	)
	return sub, nil
}
