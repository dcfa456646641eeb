// Package application drives gateway notifications through the
// subscription state machine.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	billing "github.com/felixgeelhaar/cadence/internal/billing/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

var (
	errStale   = errors.New("event older than last reconciled event")
	errIgnored = errors.New("no trigger applies")
)

// Reconciler applies verified gateway events to subscriptions exactly once.
type Reconciler struct {
	providers map[string]payments.Provider
	subs      billing.Repository
	apply     *commands.ApplyCommandHandler
	dedup     domain.DedupWindow
	failures  domain.FailureRepository
	clock     sharedDomain.Clock
	logger    *slog.Logger
	metrics   observability.Metrics
}

// NewReconciler creates a reconciler for the given providers.
func NewReconciler(
	providers []payments.Provider,
	subs billing.Repository,
	apply *commands.ApplyCommandHandler,
	dedup domain.DedupWindow,
	failures domain.FailureRepository,
	clock sharedDomain.Clock,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Reconciler {
	if clock == nil {
		clock = sharedDomain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	byName := make(map[string]payments.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Reconciler{
		providers: byName,
		subs:      subs,
		apply:     apply,
		dedup:     dedup,
		failures:  failures,
		clock:     clock,
		logger:    logger.With("component", "reconciler"),
		metrics:   metrics,
	}
}

// Provider returns the named provider.
func (r *Reconciler) Provider(name string) (payments.Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payments.ErrUnknownProvider, name)
	}
	return p, nil
}

// HandleGatewayEvent authenticates, decodes and applies one webhook delivery.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, provider string, payload []byte, signature string) domain.Result {
	started := time.Now()

	p, err := r.Provider(provider)
	if err != nil {
		return r.finish(ctx, started, domain.Result{Outcome: domain.OutcomeRejected, Provider: provider, Err: err})
	}
	if err := p.Authenticate(payload, signature); err != nil {
		return r.finish(ctx, started, domain.Result{Outcome: domain.OutcomeRejected, Provider: provider, Err: err})
	}

	result, ev := r.process(ctx, p, payload)
	// An in-flight duplicate is redelivered by the provider; the claim holder
	// records any real failure.
	inFlight := errors.Is(result.Err, domain.ErrEventInFlight)
	if (result.Outcome == domain.OutcomeRejected || result.Outcome == domain.OutcomeFailed) && !inFlight {
		r.recordFailure(ctx, provider, ev, result, payload)
	}
	return r.finish(ctx, started, result)
}

// process runs an authenticated payload through dedup, resolution and the
// state machine. ev is nil when the payload did not decode.
func (r *Reconciler) process(ctx context.Context, p payments.Provider, payload []byte) (domain.Result, *payments.GatewayEvent) {
	result := domain.Result{Provider: p.Name()}

	ev, err := p.Decode(payload)
	if err != nil {
		result.Outcome, result.Err = domain.OutcomeRejected, err
		return result, nil
	}
	result.EventID = ev.EventID
	ctx = observability.WithCorrelationID(ctx, ev.DedupKey())

	key := ev.DedupKey()
	state, err := r.dedup.Claim(ctx, key)
	if err != nil {
		result.Outcome, result.Retryable = domain.OutcomeFailed, true
		result.Err = fmt.Errorf("%w: claim %s: %v", domain.ErrReconciliationFailed, key, err)
		return result, ev
	}
	switch state {
	case domain.ClaimDuplicate:
		result.Outcome = domain.OutcomeDuplicate
		return result, ev
	case domain.ClaimInFlight:
		result.Outcome, result.Retryable, result.Err = domain.OutcomeFailed, true, domain.ErrEventInFlight
		return result, ev
	}

	result = r.applyEvent(ctx, ev, result)
	if result.Outcome == domain.OutcomeFailed {
		if err := r.dedup.Release(ctx, key); err != nil {
			r.logger.WarnContext(ctx, "failed to release dedup claim", "key", key, "error", err)
		}
		return result, ev
	}
	if err := r.dedup.Complete(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "failed to complete dedup claim", "key", key, "error", err)
	}
	return result, ev
}

func (r *Reconciler) applyEvent(ctx context.Context, ev *payments.GatewayEvent, result domain.Result) domain.Result {
	if ev.Kind == payments.KindUnsupported {
		result.Outcome = domain.OutcomeIgnored
		return result
	}

	sub, err := r.resolve(ctx, ev)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		result.Outcome = domain.OutcomeUnmatched
		return result
	}
	if err != nil {
		result.Outcome, result.Retryable = domain.OutcomeFailed, true
		result.Err = fmt.Errorf("%w: resolve subscription: %v", domain.ErrReconciliationFailed, err)
		return result
	}
	result.SubscriptionID = sub.ID()

	applied, err := r.apply.HandleFunc(ctx, sub.ID(), uuid.Nil, func(s *billing.Subscription) (billing.Trigger, billing.TriggerParams, error) {
		if s.IsStaleEvent(ev.OccurredAt) {
			return "", billing.TriggerParams{}, errStale
		}
		trigger, params, ok := domain.TriggerFor(ev, s)
		if !ok {
			return "", billing.TriggerParams{}, errIgnored
		}
		return trigger, params, nil
	})
	switch {
	case err == nil:
		result.Outcome, result.Trigger = domain.OutcomeProcessed, string(applied.Trigger)
	case errors.Is(err, errStale):
		result.Outcome = domain.OutcomeStale
	case errors.Is(err, errIgnored), errors.Is(err, billing.ErrInvalidTransition):
		result.Outcome = domain.OutcomeIgnored
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		result.Outcome = domain.OutcomeUnmatched
	default:
		result.Outcome, result.Retryable = domain.OutcomeFailed, true
		result.Err = fmt.Errorf("%w: %v", domain.ErrReconciliationFailed, err)
	}
	return result
}

// resolve finds the paired subscription by its gateway subscription
// reference, falling back to the customer reference.
func (r *Reconciler) resolve(ctx context.Context, ev *payments.GatewayEvent) (*billing.Subscription, error) {
	if ev.SubscriptionRef != "" {
		sub, err := r.subs.FindByExternalID(ctx, ev.Provider, ev.SubscriptionRef)
		if err == nil || !errors.Is(err, billing.ErrSubscriptionNotFound) || ev.CustomerRef == "" {
			return sub, err
		}
	}
	return r.subs.FindByCustomerRef(ctx, ev.Provider, ev.CustomerRef)
}

func (r *Reconciler) recordFailure(ctx context.Context, provider string, ev *payments.GatewayEvent, result domain.Result, payload []byte) {
	var (
		eventID, eventType string
		subID              *uuid.UUID
	)
	if ev != nil {
		eventID, eventType = ev.EventID, ev.Type
	}
	if result.SubscriptionID != uuid.Nil {
		id := result.SubscriptionID
		subID = &id
	}
	reason := string(result.Outcome)
	if result.Err != nil {
		reason = result.Err.Error()
	}

	f := domain.NewFailure(provider, eventID, eventType, subID, reason, payload, r.clock.Now())
	if err := r.failures.Record(ctx, f); err != nil {
		r.logger.ErrorContext(ctx, "failed to record reconciliation failure",
			"provider", provider, "event_id", eventID, "error", err)
		return
	}
	r.metrics.Counter(observability.MetricReconcileFailures, 1, observability.T("provider", provider))
}

func (r *Reconciler) finish(ctx context.Context, started time.Time, result domain.Result) domain.Result {
	r.metrics.Counter(observability.MetricGatewayEvents, 1,
		observability.T("provider", result.Provider),
		observability.T("outcome", string(result.Outcome)))
	r.metrics.Timing(observability.MetricReconcileDuration, time.Since(started),
		observability.T("provider", result.Provider))

	attrs := []any{
		"provider", result.Provider,
		"event_id", result.EventID,
		"outcome", result.Outcome,
	}
	if result.SubscriptionID != uuid.Nil {
		attrs = append(attrs, "subscription_id", result.SubscriptionID)
	}
	if result.Trigger != "" {
		attrs = append(attrs, "trigger", result.Trigger)
	}
	switch {
	case result.Outcome == domain.OutcomeFailed:
		r.logger.ErrorContext(ctx, "gateway event failed", append(attrs, "retryable", result.Retryable, "error", result.Err)...)
	case result.Err != nil:
		r.logger.WarnContext(ctx, "gateway event rejected", append(attrs, "error", result.Err)...)
	default:
		r.logger.InfoContext(ctx, "gateway event reconciled", attrs...)
	}
	return result
}

// ListFailures returns recorded failures.
func (r *Reconciler) ListFailures(ctx context.Context, filter domain.FailureFilter) ([]*domain.Failure, error) {
	return r.failures.List(ctx, filter)
}

// ResolveFailure closes a failure without replaying it.
func (r *Reconciler) ResolveFailure(ctx context.Context, id uuid.UUID, note string) (*domain.Failure, error) {
	f, err := r.failures.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.Resolve(note, r.clock.Now()); err != nil {
		return nil, err
	}
	if err := r.failures.Save(ctx, f); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "reconciliation failure resolved", "failure_id", f.ID, "note", note)
	return f, nil
}

// Reprocess replays the stored payload of an open failure. The payload was
// authenticated when first received, so the signature is not checked again.
// The failure is resolved unless the replay fails again.
func (r *Reconciler) Reprocess(ctx context.Context, id uuid.UUID) (domain.Result, error) {
	f, err := r.failures.Find(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	if f.IsResolved() {
		return domain.Result{}, fmt.Errorf("%w: %s", domain.ErrFailureResolved, id)
	}
	p, err := r.Provider(f.Provider)
	if err != nil {
		return domain.Result{}, err
	}

	started := time.Now()
	result, ev := r.process(ctx, p, f.Payload)
	r.finish(ctx, started, result)

	switch result.Outcome {
	case domain.OutcomeFailed:
		r.recordFailure(ctx, f.Provider, ev, result, f.Payload)
		return result, result.Err
	case domain.OutcomeRejected:
		return result, result.Err
	}

	if err := f.Resolve("reprocessed: "+string(result.Outcome), r.clock.Now()); err != nil {
		return result, err
	}
	if err := r.failures.Save(ctx, f); err != nil {
		return result, err
	}
	return result, nil
}
