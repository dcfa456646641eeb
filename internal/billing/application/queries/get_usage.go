package queries

import (
	"context"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/google/uuid"
)

// GetUsageQuery reads current-period usage.
type GetUsageQuery struct {
	SubscriptionID uuid.UUID
	// Metric limits the report to one metric when set.
	Metric string
}

// UsageDTO is the usage report of one subscription.
type UsageDTO struct {
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	Status         string             `json:"status"`
	Lines          []domain.UsageLine `json:"lines"`
}

// GetUsageHandler handles GetUsageQuery.
type GetUsageHandler struct {
	subs  domain.Repository
	plans Plans
}

// NewGetUsageHandler creates the handler.
func NewGetUsageHandler(subs domain.Repository, plans Plans) *GetUsageHandler {
	return &GetUsageHandler{subs: subs, plans: plans}
}

// Handle reports used, limit and remaining per metric. Remaining is -1 for
// unlimited metrics.
func (h *GetUsageHandler) Handle(ctx context.Context, q GetUsageQuery) (*UsageDTO, error) {
	sub, err := h.subs.Load(ctx, q.SubscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := h.plans.GetPlan(ctx, sub.Plan())
	if err != nil {
		return nil, err
	}
	lines, err := sub.UsageReport(plan)
	if err != nil {
		return nil, err
	}

	if q.Metric != "" {
		if _, ok := plan.Limit(q.Metric); !ok {
			return nil, domain.ErrUnknownMetric
		}
		filtered := lines[:0]
		for _, line := range lines {
			if line.Metric == q.Metric {
				filtered = append(filtered, line)
			}
		}
		lines = filtered
	}

	return &UsageDTO{SubscriptionID: sub.ID(), Status: string(sub.Status()), Lines: lines}, nil
}
