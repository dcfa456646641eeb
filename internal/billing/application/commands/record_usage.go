package commands

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

// RecordUsageCommand increments one metered counter.
type RecordUsageCommand struct {
	SubscriptionID uuid.UUID
	Metric         string
	Amount         int64
	ActorID        uuid.UUID
}

// RecordUsageResult reports the counter after the increment.
type RecordUsageResult struct {
	Line     domain.UsageLine
	Revision int64
}

// RecordUsageHandler is the usage meter's increment path. The quota check
// and the increment commit together under the revision check, so
// concurrent increments can never jointly pass a finite limit.
type RecordUsageHandler struct {
	mutator *Mutator
	plans   Plans
}

// NewRecordUsageHandler creates the handler.
func NewRecordUsageHandler(mutator *Mutator, plans Plans) *RecordUsageHandler {
	return &RecordUsageHandler{mutator: mutator, plans: plans}
}

// Handle checks the quota and increments.
func (h *RecordUsageHandler) Handle(ctx context.Context, cmd RecordUsageCommand) (*RecordUsageResult, error) {
	var line domain.UsageLine
	sub, err := h.mutator.Mutate(ctx, cmd.SubscriptionID, cmd.ActorID, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
		plan, err := h.plans.GetPlan(ctx, s.Plan())
		if err != nil {
			return err
		}
		if err := s.RecordUsage(plan, cmd.Metric, cmd.Amount, now); err != nil {
			return err
		}
		limit, _ := plan.Limit(cmd.Metric)
		left, err := s.Remaining(plan, cmd.Metric)
		if err != nil {
			return err
		}
		c := s.Usage(cmd.Metric)
		line = domain.UsageLine{Metric: cmd.Metric, Used: c.Used, Limit: limit, Remaining: left, Lifetime: c.Lifetime}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			h.mutator.metrics.Counter(observability.MetricQuotaExceeded, 1, observability.T("metric", cmd.Metric))
		}
		return nil, err
	}

	h.mutator.metrics.Counter(observability.MetricUsageRecorded, cmd.Amount, observability.T("metric", cmd.Metric))
	return &RecordUsageResult{Line: line, Revision: sub.Revision()}, nil
}
