package mcp

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	reconciliation "github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/mcp-go"
)

type subscriptionInput struct {
	SubscriptionID string `json:"subscription_id" jsonschema:"required"`
}

type usageInput struct {
	SubscriptionID string `json:"subscription_id" jsonschema:"required"`
	Metric         string `json:"metric,omitempty"`
}

type estimateInput struct {
	SubscriptionID string `json:"subscription_id" jsonschema:"required"`
	PlanID         string `json:"plan_id" jsonschema:"required"`
	PlanVersion    int    `json:"plan_version,omitempty"`
	Cycle          string `json:"cycle,omitempty"`
}

type applyInput struct {
	SubscriptionID string `json:"subscription_id" jsonschema:"required"`
	Trigger        string `json:"trigger" jsonschema:"required"`
	Reason         string `json:"reason,omitempty"`
	PeriodStart    string `json:"period_start,omitempty"`
	PeriodEnd      string `json:"period_end,omitempty"`
}

type applyOutput struct {
	Trigger  string `json:"trigger"`
	From     string `json:"from"`
	To       string `json:"to"`
	Revision int64  `json:"revision"`
}

type failuresInput struct {
	IncludeResolved bool   `json:"include_resolved,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

type resolveFailureInput struct {
	FailureID string `json:"failure_id" jsonschema:"required"`
	Note      string `json:"note" jsonschema:"required"`
}

// billingTools backs the billing.* tools.
type billingTools struct {
	app *cli.App
}

func registerBillingTools(srv *mcp.Server, deps ToolDependencies) error {
	t := billingTools{app: deps.App}

	srv.Tool("billing.subscription").
		Description("Get a subscription with its status, period, gateway pairing and usage").
		Handler(t.subscription)

	srv.Tool("billing.usage").
		Description("Get metered usage against plan limits for a subscription").
		Handler(t.usage)

	srv.Tool("billing.estimate").
		Description("Price a plan change: prorated credit, immediate charge and next bill").
		Handler(t.estimate)

	srv.Tool("billing.apply").
		Description("Apply a lifecycle trigger (activate, pause, resume, cancel_immediate, cancel_at_period_end, ...)").
		Handler(t.apply)

	srv.Tool("billing.failures").
		Description("List gateway events that could not be reconciled").
		Handler(t.failures)

	srv.Tool("billing.resolve_failure").
		Description("Mark a reconciliation failure as handled").
		Handler(t.resolveFailure)

	return nil
}

func (t billingTools) subscription(ctx context.Context, input subscriptionInput) (*queries.SubscriptionDTO, error) {
	id, err := parseUUID(input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return t.app.GetSubscriptionHandler.Handle(ctx, queries.GetSubscriptionQuery{SubscriptionID: id})
}

func (t billingTools) usage(ctx context.Context, input usageInput) (*queries.UsageDTO, error) {
	id, err := parseUUID(input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return t.app.GetUsageHandler.Handle(ctx, queries.GetUsageQuery{SubscriptionID: id, Metric: input.Metric})
}

func (t billingTools) estimate(ctx context.Context, input estimateInput) (*domain.PlanChangeEstimate, error) {
	id, err := parseUUID(input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if input.PlanID == "" {
		return nil, errors.New("plan_id is required")
	}
	cycle, err := parseCycle(input.Cycle)
	if err != nil {
		return nil, err
	}
	return t.app.EstimatePlanChangeHandler.Handle(ctx, queries.EstimatePlanChangeQuery{
		SubscriptionID: id,
		PlanID:         input.PlanID,
		PlanVersion:    input.PlanVersion,
		Cycle:          cycle,
	})
}

func (t billingTools) apply(ctx context.Context, input applyInput) (*applyOutput, error) {
	id, err := parseUUID(input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	trigger, err := domain.ParseTrigger(input.Trigger)
	if err != nil {
		return nil, err
	}
	if trigger == domain.TriggerChangePlan {
		return nil, errors.New("plan changes are not available as a tool; estimate with billing.estimate")
	}
	start, err := parseOptionalTime(input.PeriodStart)
	if err != nil {
		return nil, err
	}
	end, err := parseOptionalTime(input.PeriodEnd)
	if err != nil {
		return nil, err
	}

	res, err := t.app.ApplyCommandHandler.Handle(ctx, commands.ApplyCommand{
		SubscriptionID: id,
		Trigger:        trigger,
		Params: domain.TriggerParams{
			PeriodStart: start,
			PeriodEnd:   end,
			Reason:      input.Reason,
		},
	})
	if err != nil {
		return nil, err
	}
	return &applyOutput{
		Trigger:  string(res.Trigger),
		From:     string(res.From),
		To:       string(res.To),
		Revision: res.Revision,
	}, nil
}

func (t billingTools) failures(ctx context.Context, input failuresInput) ([]*reconciliation.Failure, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	failures, err := t.app.Reconciler.ListFailures(ctx, reconciliation.FailureFilter{
		IncludeResolved: input.IncludeResolved,
		Provider:        input.Provider,
		Limit:           limit,
	})
	if err != nil {
		return nil, err
	}
	if failures == nil {
		failures = []*reconciliation.Failure{}
	}
	return failures, nil
}

func (t billingTools) resolveFailure(ctx context.Context, input resolveFailureInput) (*reconciliation.Failure, error) {
	id, err := parseUUID(input.FailureID)
	if err != nil {
		return nil, err
	}
	if input.Note == "" {
		return nil, errors.New("note is required")
	}
	return t.app.Reconciler.ResolveFailure(ctx, id, input.Note)
}
