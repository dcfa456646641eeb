package commands

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/felixgeelhaar/cadence/internal/billing/infrastructure/persistence"
	catalogApp "github.com/felixgeelhaar/cadence/internal/catalog/application"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	catalogPersistence "github.com/felixgeelhaar/cadence/internal/catalog/infrastructure/persistence"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/sandbox"
	sharedApplication "github.com/felixgeelhaar/cadence/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	subs    *persistence.MemorySubscriptionRepository
	outbox  *outbox.MemoryRepository
	clock   *sharedDomain.FixedClock
	plans   *catalogApp.Service
	gateway *sandbox.Gateway
	metrics *observability.InMemoryMetrics
	mutator *Mutator
}

func newFixture(t *testing.T, opts ...MutatorOption) *fixture {
	t.Helper()
	f := &fixture{
		subs:    persistence.NewMemorySubscriptionRepository(),
		outbox:  outbox.NewMemoryRepository(),
		clock:   sharedDomain.NewFixedClock(start),
		gateway: sandbox.NewGateway(),
		metrics: observability.NewInMemoryMetrics(),
	}
	f.plans = catalogApp.NewService(catalogPersistence.NewMemoryPlanRepository(), f.clock, nil)
	opts = append([]MutatorOption{WithClock(f.clock), WithMetrics(f.metrics)}, opts...)
	f.mutator = NewMutator(f.subs, f.outbox, sharedApplication.NoopUnitOfWork{}, opts...)

	f.publish(t, "basic", 1000, 100, 0)
	f.publish(t, "pro", 2000, catalog.Unlimited, 0)
	f.publish(t, "trial", 1500, 100, 14)
	return f
}

func (f *fixture) publish(t *testing.T, id string, price, apiCalls int64, trialDays int) {
	t.Helper()
	_, err := f.plans.PublishPlan(context.Background(), catalog.PlanSpec{
		ID:        id,
		Cycle:     catalog.CycleMonthly,
		Price:     catalog.Money{Amount: price, Currency: "USD"},
		Limits:    map[string]int64{"api_calls": apiCalls},
		TrialDays: trialDays,
	})
	require.NoError(t, err)
}

func (f *fixture) create(t *testing.T, planID string) *domain.Subscription {
	t.Helper()
	sub, err := NewCreateSubscriptionHandler(f.mutator, f.plans).Handle(context.Background(), CreateSubscriptionCommand{
		AccountID: uuid.New(),
		PlanID:    planID,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) apply(t *testing.T, id uuid.UUID, trigger domain.Trigger, params domain.TriggerParams) *ApplyResult {
	t.Helper()
	res, err := NewApplyCommandHandler(f.mutator, domain.DefaultPolicy()).Handle(context.Background(), ApplyCommand{
		SubscriptionID: id, Trigger: trigger, Params: params,
	})
	require.NoError(t, err)
	return res
}

func TestCreateSubscription(t *testing.T) {
	f := newFixture(t)

	trial := f.create(t, "trial")
	assert.Equal(t, domain.StatusTrial, trial.Status())
	assert.Equal(t, int64(0), trial.Revision())

	paid := f.create(t, "basic")
	assert.Equal(t, domain.StatusIncomplete, paid.Status())

	msgs := f.outbox.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoutingKeySubscriptionCreated, msgs[0].RoutingKey)

	_, err := NewCreateSubscriptionHandler(f.mutator, f.plans).Handle(context.Background(), CreateSubscriptionCommand{
		AccountID: uuid.New(), PlanID: "missing",
	})
	assert.ErrorIs(t, err, catalog.ErrPlanNotFound)
}

func TestApplyCommand(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "trial")

	res := f.apply(t, sub.ID(), domain.TriggerActivate, domain.TriggerParams{})
	assert.Equal(t, domain.StatusTrial, res.From)
	assert.Equal(t, domain.StatusActive, res.To)
	assert.Equal(t, int64(1), res.Revision)

	stored, err := f.subs.Load(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status())

	msgs := f.outbox.All()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoutingKeyTransitioned, msgs[1].RoutingKey)
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricTransitions,
		observability.T("trigger", "activate"), observability.T("to", "active")))
}

func TestApplyCommand_InvalidTransitionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "basic")

	_, err := NewApplyCommandHandler(f.mutator, domain.DefaultPolicy()).Handle(context.Background(), ApplyCommand{
		SubscriptionID: sub.ID(), Trigger: domain.TriggerResume,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.subs.Load(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIncomplete, stored.Status())
	assert.Equal(t, int64(0), stored.Revision())
	assert.Len(t, f.outbox.All(), 1)
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricTransitionDenied, observability.T("trigger", "resume")))
}

func TestApplyCommand_DunningThreshold(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "basic")
	f.apply(t, sub.ID(), domain.TriggerActivate, domain.TriggerParams{})

	var res *ApplyResult
	for i := 0; i < domain.DefaultDunningThreshold; i++ {
		res = f.apply(t, sub.ID(), domain.TriggerPaymentFailed, domain.TriggerParams{})
		if i < domain.DefaultDunningThreshold-1 {
			assert.Equal(t, domain.StatusPastDue, res.To)
		}
	}
	assert.Equal(t, domain.StatusUnpaid, res.To)
	assert.Equal(t, 5, res.Subscription.ConsecutiveFailures())
}

// racingRepository loses the first n commits as if another writer got there first.
type racingRepository struct {
	*persistence.MemorySubscriptionRepository
	losses int32
}

func (r *racingRepository) Commit(ctx context.Context, s *domain.Subscription, expected int64) error {
	if atomic.AddInt32(&r.losses, -1) >= 0 {
		return domain.ErrStaleWrite
	}
	return r.MemorySubscriptionRepository.Commit(ctx, s, expected)
}

func TestMutator_RetriesStaleWrites(t *testing.T) {
	t.Run("succeeds within the bound", func(t *testing.T) {
		f := newFixture(t)
		sub := f.create(t, "basic")
		repo := &racingRepository{MemorySubscriptionRepository: f.subs, losses: 2}
		m := NewMutator(repo, f.outbox, sharedApplication.NoopUnitOfWork{}, WithClock(f.clock), WithMetrics(f.metrics))

		attempts := 0
		got, err := m.Mutate(context.Background(), sub.ID(), uuid.Nil, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
			attempts++
			return s.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), now)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, int64(1), got.Revision())
		assert.Equal(t, int64(2), f.metrics.GetCounter(observability.MetricStaleWrites))
	})

	t.Run("surfaces ErrStaleWrite after the bound", func(t *testing.T) {
		f := newFixture(t)
		sub := f.create(t, "basic")
		repo := &racingRepository{MemorySubscriptionRepository: f.subs, losses: 100}
		m := NewMutator(repo, f.outbox, sharedApplication.NoopUnitOfWork{}, WithClock(f.clock), WithStaleWriteRetries(3))

		_, err := m.Mutate(context.Background(), sub.ID(), uuid.Nil, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
			return s.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), now)
		})
		assert.ErrorIs(t, err, domain.ErrStaleWrite)

		stored, err := f.subs.Load(context.Background(), sub.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusIncomplete, stored.Status())
	})
}

func TestRecordUsage(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "basic")
	handler := NewRecordUsageHandler(f.mutator, f.plans)
	ctx := context.Background()

	_, err := handler.Handle(ctx, RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "api_calls", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrUsageNotAllowed, "incomplete subscriptions do not meter")

	f.apply(t, sub.ID(), domain.TriggerActivate, domain.TriggerParams{})

	res, err := handler.Handle(ctx, RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "api_calls", Amount: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.Line.Used)
	assert.Equal(t, int64(40), res.Line.Remaining)

	_, err = handler.Handle(ctx, RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "api_calls", Amount: 41})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	_, err = handler.Handle(ctx, RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "storage", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrUnknownMetric)

	res, err = handler.Handle(ctx, RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "api_calls", Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Line.Remaining)
}

func TestRecordUsage_ConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	// Every loser of a revision race replays; at most 100 commits can win.
	f := newFixture(t, WithStaleWriteRetries(1000))
	sub := f.create(t, "basic")
	f.apply(t, sub.ID(), domain.TriggerActivate, domain.TriggerParams{})
	handler := NewRecordUsageHandler(f.mutator, f.plans)

	var (
		wg                 sync.WaitGroup
		accepted, rejected atomic.Int64
		unexpected         atomic.Int64
	)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := handler.Handle(context.Background(), RecordUsageCommand{SubscriptionID: sub.ID(), Metric: "api_calls", Amount: 1})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrQuotaExceeded):
				rejected.Add(1)
			default:
				unexpected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), accepted.Load())
	assert.Equal(t, int64(50), rejected.Load())
	assert.Zero(t, unexpected.Load())

	stored, err := f.subs.Load(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.Usage("api_calls").Used)
}

func activeOnBasic(t *testing.T, f *fixture) *domain.Subscription {
	t.Helper()
	sub := f.create(t, "basic")
	periodEnd := start.AddDate(0, 0, 30)
	f.apply(t, sub.ID(), domain.TriggerActivate, domain.TriggerParams{PeriodStart: &start, PeriodEnd: &periodEnd})
	f.clock.Set(start.AddDate(0, 0, 15))
	return sub
}

func TestChangePlan_ChargesProrationThenApplies(t *testing.T) {
	f := newFixture(t)
	sub := activeOnBasic(t, f)
	handler := NewChangePlanHandler(f.mutator, f.plans, f.gateway, domain.DefaultPolicy())

	res, err := handler.Handle(context.Background(), ChangePlanCommand{
		SubscriptionID: sub.ID(), PlanID: "pro", CommandID: "cmd-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(500), res.Estimate.Credit)
	assert.Equal(t, int64(1500), res.Estimate.ImmediateCharge)
	require.NotNil(t, res.Charge)
	assert.Equal(t, "plan-change:"+sub.ID().String()+":cmd-1", res.Charge.IdempotencyKey)
	assert.Equal(t, "pro", res.Subscription.Plan().ID)
	assert.Equal(t, 1, f.gateway.Charges())

	// A client retry with the same command id does not charge twice.
	_, err = handler.Handle(context.Background(), ChangePlanCommand{
		SubscriptionID: sub.ID(), PlanID: "pro", CommandID: "cmd-1",
	})
	assert.ErrorIs(t, err, domain.ErrPlanUnchanged)
	assert.Equal(t, 1, f.gateway.Charges())
}

func TestChangePlan_FailedChargeLeavesSubscriptionUnchanged(t *testing.T) {
	for name, failure := range map[string]error{
		"declined": payments.ErrCardDeclined,
		"timeout":  payments.ErrGatewayTimeout,
		"pending":  payments.ErrChargePending,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			sub := activeOnBasic(t, f)
			f.gateway.FailNext(failure)

			_, err := NewChangePlanHandler(f.mutator, f.plans, f.gateway, domain.DefaultPolicy()).Handle(context.Background(), ChangePlanCommand{
				SubscriptionID: sub.ID(), PlanID: "pro", CommandID: "cmd-2",
			})
			assert.ErrorIs(t, err, failure)

			stored, err := f.subs.Load(context.Background(), sub.ID())
			require.NoError(t, err)
			assert.Equal(t, "basic", stored.Plan().ID)
			assert.Equal(t, int64(1), stored.Revision())
		})
	}
}

func TestChangePlan_DowngradeChargesNothing(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "mini", 200, 10, 0)
	sub := activeOnBasic(t, f)

	res, err := NewChangePlanHandler(f.mutator, f.plans, f.gateway, domain.DefaultPolicy()).Handle(context.Background(), ChangePlanCommand{
		SubscriptionID: sub.ID(), PlanID: "mini",
	})
	require.NoError(t, err)
	assert.Zero(t, res.Estimate.ImmediateCharge)
	assert.Nil(t, res.Charge)
	assert.Zero(t, f.gateway.Calls())
}

func TestChangePlan_FromTrialStartsPaidPeriod(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "trial")
	require.NotNil(t, sub.TrialEnd())
	at := start.AddDate(0, 0, 3)
	f.clock.Set(at)

	res, err := NewChangePlanHandler(f.mutator, f.plans, f.gateway, domain.DefaultPolicy()).Handle(context.Background(), ChangePlanCommand{
		SubscriptionID: sub.ID(), PlanID: "pro", CommandID: "cmd-trial",
	})
	require.NoError(t, err)

	assert.Zero(t, res.Estimate.Credit)
	assert.Equal(t, int64(2000), res.Estimate.ImmediateCharge)
	assert.Equal(t, res.Estimate.TotalDays, res.Estimate.DaysRemaining)

	stored, err := f.subs.Load(context.Background(), sub.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status())
	assert.Nil(t, stored.TrialEnd())
	assert.Equal(t, domain.Period{Start: at, End: at.AddDate(0, 1, 0)}, stored.Period())
	require.NotNil(t, stored.NextBillingDate())
	assert.Equal(t, at.AddDate(0, 1, 0), *stored.NextBillingDate(), "the paid month is not billed again at the old trial end")
}

// interleavedGateway runs before ahead of the first charge it forwards.
type interleavedGateway struct {
	payments.Gateway
	once   sync.Once
	before func()
}

func (g *interleavedGateway) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	g.once.Do(g.before)
	return g.Gateway.Charge(ctx, req)
}

func TestChangePlan_RejectsPlanMovedDuringCharge(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "mini", 200, 10, 0)
	sub := activeOnBasic(t, f)
	ctx := context.Background()

	gateway := &interleavedGateway{Gateway: f.gateway, before: func() {
		_, err := NewChangePlanHandler(f.mutator, f.plans, f.gateway, domain.DefaultPolicy()).Handle(ctx, ChangePlanCommand{
			SubscriptionID: sub.ID(), PlanID: "mini",
		})
		require.NoError(t, err)
	}}

	_, err := NewChangePlanHandler(f.mutator, f.plans, gateway, domain.DefaultPolicy()).Handle(ctx, ChangePlanCommand{
		SubscriptionID: sub.ID(), PlanID: "pro", CommandID: "cmd-race",
	})
	assert.ErrorIs(t, err, domain.ErrPlanMismatch)

	stored, err := f.subs.Load(ctx, sub.ID())
	require.NoError(t, err)
	assert.Equal(t, "mini", stored.Plan().ID, "the concurrent change wins")
}

func TestAttachGateway(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "basic")
	b := f.create(t, "basic")
	handler := NewAttachGatewayHandler(f.mutator)
	ctx := context.Background()

	paired, err := handler.Handle(ctx, AttachGatewayCommand{
		SubscriptionID: a.ID(), Provider: "stripe", CustomerRef: "cus_1", SubscriptionRef: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", paired.Gateway().SubscriptionRef)

	_, err = handler.Handle(ctx, AttachGatewayCommand{
		SubscriptionID: b.ID(), Provider: "stripe", SubscriptionRef: "sub_1",
	})
	assert.ErrorIs(t, err, domain.ErrPairingConflict)

	_, err = handler.Handle(ctx, AttachGatewayCommand{
		SubscriptionID: a.ID(), Provider: "stripe", CustomerRef: "cus_1", SubscriptionRef: "sub_1",
	})
	require.NoError(t, err, "re-pairing the same record is allowed")
}
