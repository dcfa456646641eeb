package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

// ApplyCommand fires one trigger on a subscription.
type ApplyCommand struct {
	SubscriptionID uuid.UUID
	Trigger        domain.Trigger
	Params         domain.TriggerParams
	ActorID        uuid.UUID
	// Precondition runs against each freshly loaded copy before the trigger
	// fires. Its error aborts the command without retry.
	Precondition func(s *domain.Subscription) error
}

// ApplyResult describes an accepted transition.
type ApplyResult struct {
	Subscription *domain.Subscription
	Trigger      domain.Trigger
	From         domain.Status
	To           domain.Status
	Revision     int64
}

// DecideFunc picks the trigger for a freshly loaded subscription. It runs
// again on every stale-write retry, so it always sees committed state.
type DecideFunc func(s *domain.Subscription) (domain.Trigger, domain.TriggerParams, error)

// ApplyCommandHandler is the subscription state machine entry point.
type ApplyCommandHandler struct {
	mutator *Mutator
	policy  domain.Policy
}

// NewApplyCommandHandler creates the handler.
func NewApplyCommandHandler(mutator *Mutator, policy domain.Policy) *ApplyCommandHandler {
	return &ApplyCommandHandler{mutator: mutator, policy: policy}
}

// Handle applies the trigger and commits it with optimistic retry.
func (h *ApplyCommandHandler) Handle(ctx context.Context, cmd ApplyCommand) (*ApplyResult, error) {
	return h.HandleFunc(ctx, cmd.SubscriptionID, cmd.ActorID, func(s *domain.Subscription) (domain.Trigger, domain.TriggerParams, error) {
		if cmd.Precondition != nil {
			if err := cmd.Precondition(s); err != nil {
				return "", domain.TriggerParams{}, err
			}
		}
		return cmd.Trigger, cmd.Params, nil
	})
}

// HandleSequence fires triggers in order and commits them as one revision-checked
// write. If any trigger is rejected nothing is stored. The result reports the
// status before the first trigger and after the last.
func (h *ApplyCommandHandler) HandleSequence(ctx context.Context, id, actorID uuid.UUID, precondition func(*domain.Subscription) error, reason string, triggers ...domain.Trigger) (*ApplyResult, error) {
	if len(triggers) == 0 {
		return nil, fmt.Errorf("%w: no triggers", domain.ErrInvalidTransition)
	}
	timer := observability.StartTimer("billing.apply").WithMetrics(h.mutator.metrics)

	var from domain.Status
	sub, err := h.mutator.Mutate(ctx, id, actorID, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
		if precondition != nil {
			if err := precondition(s); err != nil {
				return err
			}
		}
		from = s.Status()
		for _, t := range triggers {
			if err := s.Apply(t, domain.TriggerParams{Reason: reason}, h.policy, now); err != nil {
				return err
			}
		}
		return nil
	})
	timer.StopWithError(err)
	if err != nil {
		return nil, err
	}

	last := triggers[len(triggers)-1]
	for _, t := range triggers {
		h.mutator.metrics.Counter(observability.MetricTransitions, 1,
			observability.T("trigger", string(t)),
			observability.T("to", string(sub.Status())))
	}
	h.mutator.logger.InfoContext(ctx, "subscription transitioned",
		"subscription_id", sub.ID(),
		"triggers", triggers,
		"from", from,
		"to", sub.Status(),
		"revision", sub.Revision(),
	)
	return &ApplyResult{Subscription: sub, Trigger: last, From: from, To: sub.Status(), Revision: sub.Revision()}, nil
}

// HandleFunc applies whatever trigger decide picks for the current state.
func (h *ApplyCommandHandler) HandleFunc(ctx context.Context, id, actorID uuid.UUID, decide DecideFunc) (*ApplyResult, error) {
	timer := observability.StartTimer("billing.apply").WithMetrics(h.mutator.metrics)

	var (
		from    domain.Status
		trigger domain.Trigger
	)
	sub, err := h.mutator.Mutate(ctx, id, actorID, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
		t, params, err := decide(s)
		if err != nil {
			return err
		}
		from, trigger = s.Status(), t
		return s.Apply(t, params, h.policy, now)
	})
	timer.StopWithError(err)

	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.mutator.metrics.Counter(observability.MetricTransitionDenied, 1,
				observability.T("trigger", string(trigger)))
		}
		return nil, err
	}

	h.mutator.metrics.Counter(observability.MetricTransitions, 1,
		observability.T("trigger", string(trigger)),
		observability.T("to", string(sub.Status())))
	h.mutator.logger.InfoContext(ctx, "subscription transitioned",
		"subscription_id", sub.ID(),
		"trigger", trigger,
		"from", from,
		"to", sub.Status(),
		"revision", sub.Revision(),
	)

	return &ApplyResult{
		Subscription: sub,
		Trigger:      trigger,
		From:         from,
		To:           sub.Status(),
		Revision:     sub.Revision(),
	}, nil
}
