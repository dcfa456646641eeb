package queries

import (
	"context"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/google/uuid"
)

// GetSubscriptionQuery fetches one subscription.
type GetSubscriptionQuery struct {
	SubscriptionID uuid.UUID
}

// GetSubscriptionHandler handles GetSubscriptionQuery.
type GetSubscriptionHandler struct {
	subs  domain.Repository
	plans Plans
}

// NewGetSubscriptionHandler creates the handler.
func NewGetSubscriptionHandler(subs domain.Repository, plans Plans) *GetSubscriptionHandler {
	return &GetSubscriptionHandler{subs: subs, plans: plans}
}

// Handle returns the subscription with its usage report.
func (h *GetSubscriptionHandler) Handle(ctx context.Context, q GetSubscriptionQuery) (*SubscriptionDTO, error) {
	sub, err := h.subs.Load(ctx, q.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := h.plans.GetPlan(ctx, sub.Plan())
	if err != nil {
		return nil, err
	}
	usage, err := sub.UsageReport(plan)
	if err != nil {
		return nil, err
	}
	dto := ToSubscriptionDTO(sub, usage)
	return &dto, nil
}

// ListSubscriptionsQuery lists an account's subscriptions.
type ListSubscriptionsQuery struct {
	AccountID uuid.UUID
}

// ListSubscriptionsHandler handles ListSubscriptionsQuery.
type ListSubscriptionsHandler struct {
	subs domain.Repository
}

// NewListSubscriptionsHandler creates the handler.
func NewListSubscriptionsHandler(subs domain.Repository) *ListSubscriptionsHandler {
	return &ListSubscriptionsHandler{subs: subs}
}

// Handle returns the account's subscriptions, newest first, without usage.
func (h *ListSubscriptionsHandler) Handle(ctx context.Context, q ListSubscriptionsQuery) ([]SubscriptionDTO, error) {
	subs, err := h.subs.ListByAccount(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	out := make([]SubscriptionDTO, 0, len(subs))
	for _, s := range subs {
		out = append(out, ToSubscriptionDTO(s, nil))
	}
	return out, nil
}
