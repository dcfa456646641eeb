package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

// ChangePlanCommand moves a subscription to another plan.
type ChangePlanCommand struct {
	SubscriptionID uuid.UUID
	PlanID         string
	// PlanVersion pins a version; zero takes the newest.
	PlanVersion int
	// Cycle narrows resolution of the newest version; empty matches any.
	Cycle catalog.BillingCycle
	// CommandID makes the proration charge idempotent across client retries.
	CommandID string
	ActorID   uuid.UUID
}

// ChangePlanResult reports the applied change.
type ChangePlanResult struct {
	Subscription *domain.Subscription
	Estimate     domain.PlanChangeEstimate
	Charge       *payments.ChargeResult
}

// ChangePlanHandler charges the prorated difference and only then
// repoints the subscription. A failed charge leaves it untouched.
type ChangePlanHandler struct {
	mutator *Mutator
	plans   Plans
	gateway payments.Gateway
	policy  domain.Policy
}

// NewChangePlanHandler creates the handler.
func NewChangePlanHandler(mutator *Mutator, plans Plans, gateway payments.Gateway, policy domain.Policy) *ChangePlanHandler {
	return &ChangePlanHandler{mutator: mutator, plans: plans, gateway: gateway, policy: policy}
}

// Handle estimates, charges and applies change_plan.
func (h *ChangePlanHandler) Handle(ctx context.Context, cmd ChangePlanCommand) (res *ChangePlanResult, err error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	timer := observability.StartTimer("billing.change_plan").WithMetrics(h.mutator.metrics)
	defer func() { timer.StopWithError(err) }()

	current, err := h.mutator.subs.Load(ctx, cmd.SubscriptionID)
	if err != nil {
		return nil, err
	}
	currentPlan, err := h.plans.GetPlan(ctx, current.Plan())
	if err != nil {
		return nil, err
	}
	target, err := h.resolveTarget(ctx, cmd)
	if err != nil {
		return nil, err
	}

	estimate, err := domain.EstimatePlanChange(current, currentPlan, target, h.mutator.clock.Now())
	if err != nil {
		return nil, err
	}

	var charge *payments.ChargeResult
	if estimate.ImmediateCharge > 0 {
		charge, err = h.gateway.Charge(ctx, payments.ChargeRequest{
			CustomerRef:    customerRef(current),
			Amount:         estimate.ImmediateCharge,
			Currency:       estimate.Currency,
			IdempotencyKey: fmt.Sprintf("plan-change:%s:%s", current.ID(), cmd.CommandID),
			Description:    fmt.Sprintf("Plan change %s to %s", estimate.CurrentPlan, estimate.NewPlan),
			Metadata: map[string]string{
				"subscription_id": current.ID().String(),
				"plan":            estimate.NewPlan.String(),
			},
		})
		if err != nil {
			h.mutator.logger.WarnContext(ctx, "plan change charge failed",
				"subscription_id", current.ID(),
				"amount", estimate.ImmediateCharge,
				"error", err,
			)
			return nil, err
		}
	}

	// The charge is settled; a concurrent change that makes the transition
	// invalid surfaces here and needs operator follow-up on the charge.
	sub, err := h.mutator.Mutate(ctx, cmd.SubscriptionID, cmd.ActorID, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
		if s.Plan() != estimate.CurrentPlan {
			return fmt.Errorf("%w: priced from %s but subscription is now on %s",
				domain.ErrPlanMismatch, estimate.CurrentPlan, s.Plan())
		}
		return s.Apply(domain.TriggerChangePlan, domain.TriggerParams{
			Plan:   target,
			Reason: "plan change " + cmd.CommandID,
		}, h.policy, now)
	})
	if err != nil {
		if charge != nil {
			h.mutator.logger.ErrorContext(ctx, "plan change charged but not applied",
				"subscription_id", cmd.SubscriptionID,
				"charge_id", charge.ChargeID,
				"error", err,
			)
		}
		return nil, err
	}

	h.mutator.metrics.Counter(observability.MetricTransitions, 1,
		observability.T("trigger", string(domain.TriggerChangePlan)),
		observability.T("to", string(sub.Status())))
	h.mutator.logger.InfoContext(ctx, "plan changed",
		"subscription_id", sub.ID(),
		"from_plan", estimate.CurrentPlan.String(),
		"to_plan", estimate.NewPlan.String(),
		"charged", estimate.ImmediateCharge,
	)

	return &ChangePlanResult{Subscription: sub, Estimate: estimate, Charge: charge}, nil
}

func (h *ChangePlanHandler) resolveTarget(ctx context.Context, cmd ChangePlanCommand) (*catalog.Plan, error) {
	if cmd.PlanVersion > 0 {
		return h.plans.GetPlan(ctx, catalog.PlanRef{ID: cmd.PlanID, Version: cmd.PlanVersion})
	}
	return h.plans.Resolve(ctx, cmd.PlanID, cmd.Cycle)
}

// customerRef is the gateway customer to charge: the paired customer when
// there is one, else the account id.
func customerRef(s *domain.Subscription) string {
	if p := s.Gateway(); p != nil && p.CustomerRef != "" {
		return p.CustomerRef
	}
	return s.AccountID().String()
}
