package workers

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
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

type sweepFixture struct {
	subs    *persistence.MemorySubscriptionRepository
	clock   *sharedDomain.FixedClock
	gateway *sandbox.Gateway
	metrics *observability.InMemoryMetrics
	create  *commands.CreateSubscriptionHandler
	apply   *commands.ApplyCommandHandler
	sweeper *LifecycleSweeper
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	ctx := context.Background()
	f := &sweepFixture{
		subs:    persistence.NewMemorySubscriptionRepository(),
		clock:   sharedDomain.NewFixedClock(start),
		gateway: sandbox.NewGateway(),
		metrics: observability.NewInMemoryMetrics(),
	}
	plans := catalogApp.NewService(catalogPersistence.NewMemoryPlanRepository(), f.clock, nil)
	for _, spec := range []catalog.PlanSpec{
		{ID: "basic", Cycle: catalog.CycleMonthly, Price: catalog.Money{Amount: 1000, Currency: "USD"}, Limits: map[string]int64{"api_calls": 100}},
		{ID: "trial", Cycle: catalog.CycleMonthly, Price: catalog.Money{Amount: 1000, Currency: "USD"}, TrialDays: 14},
	} {
		_, err := plans.PublishPlan(ctx, spec)
		require.NoError(t, err)
	}

	mutator := commands.NewMutator(f.subs, outbox.NewMemoryRepository(), sharedApplication.NoopUnitOfWork{},
		commands.WithClock(f.clock), commands.WithMetrics(f.metrics))
	f.create = commands.NewCreateSubscriptionHandler(mutator, plans)
	f.apply = commands.NewApplyCommandHandler(mutator, domain.DefaultPolicy())
	f.sweeper = NewLifecycleSweeper(f.subs, f.apply, plans, f.gateway, f.clock,
		LifecycleSweeperConfig{Concurrency: 2}, nil, f.metrics)
	return f
}

func (f *sweepFixture) subscription(t *testing.T, planID string, triggers ...domain.Trigger) *domain.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, err := f.create.Handle(ctx, commands.CreateSubscriptionCommand{AccountID: uuid.New(), PlanID: planID})
	require.NoError(t, err)
	for _, trigger := range triggers {
		_, err := f.apply.Handle(ctx, commands.ApplyCommand{SubscriptionID: sub.ID(), Trigger: trigger})
		require.NoError(t, err)
	}
	return sub
}

func (f *sweepFixture) load(t *testing.T, id uuid.UUID) *domain.Subscription {
	t.Helper()
	s, err := f.subs.Load(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestSweeper_RenewsDueSubscriptions(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	periodEnd := f.load(t, sub.ID()).Period().End

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Renewed, "nothing is due before the period ends")

	f.clock.Set(periodEnd.Add(time.Hour))
	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 1, f.gateway.Charges())

	renewed := f.load(t, sub.ID())
	assert.Equal(t, domain.StatusActive, renewed.Status())
	assert.Equal(t, periodEnd, renewed.Period().Start)
	require.NotNil(t, renewed.NextBillingDate())
	assert.True(t, renewed.NextBillingDate().After(f.clock.Now()))

	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Renewed)
	assert.Equal(t, 1, f.gateway.Charges())
}

func TestSweeper_DeclinedRenewalIsAFailedPayment(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	f.gateway.Decline(sub.AccountID().String())
	f.clock.Set(f.load(t, sub.ID()).Period().End)

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RenewalFailed)

	s := f.load(t, sub.ID())
	assert.Equal(t, domain.StatusPastDue, s.Status())
	assert.Equal(t, 1, s.ConsecutiveFailures())
}

func TestSweeper_TransientGatewayErrorRetriesNextPass(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	periodEnd := f.load(t, sub.ID()).Period().End
	f.clock.Set(periodEnd)
	f.gateway.FailNext(payments.ErrGatewayTimeout)

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, periodEnd, f.load(t, sub.ID()).Period().End)

	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 1, f.gateway.Charges())
}

func TestSweeper_ExpiresTrials(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "trial")
	require.Equal(t, domain.StatusTrial, sub.Status())

	f.clock.Set(start.AddDate(0, 0, 15))
	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TrialsExpired)

	s := f.load(t, sub.ID())
	assert.Equal(t, domain.StatusIncompleteExpired, s.Status())
	assert.NotNil(t, s.EndedAt())
	assert.Nil(t, s.NextBillingDate())
}

func TestSweeper_CancelsAtPeriodEndWithoutCharging(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate, domain.TriggerCancelAtPeriodEnd)
	f.clock.Set(f.load(t, sub.ID()).Period().End)

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Canceled)
	assert.Zero(t, report.Renewed)
	assert.Zero(t, f.gateway.Calls())
	assert.Equal(t, domain.StatusCanceled, f.load(t, sub.ID()).Status())
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricSweepProcessed,
		observability.T("step", StepCancelDue), observability.T("outcome", "ok")))
}

func TestSweeper_DueCancellationsAreNeverRenewed(t *testing.T) {
	f := newSweepFixture(t)
	f.sweeper.config.BatchSize = 1
	first := f.subscription(t, "basic", domain.TriggerActivate, domain.TriggerCancelAtPeriodEnd)
	second := f.subscription(t, "basic", domain.TriggerActivate, domain.TriggerCancelAtPeriodEnd)
	f.clock.Set(f.load(t, first.ID()).Period().End.Add(time.Hour))

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Canceled)
	assert.Zero(t, report.Renewed, "the cancellation left for the next pass is not renewed")
	assert.Zero(t, f.gateway.Calls())

	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Canceled)
	assert.Zero(t, report.Renewed)
	assert.Zero(t, f.gateway.Calls())

	assert.Equal(t, domain.StatusCanceled, f.load(t, first.ID()).Status())
	assert.Equal(t, domain.StatusCanceled, f.load(t, second.ID()).Status())
}

func TestSweeper_RenewRechecksCancelAtBeforeCharging(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	snapshot := f.load(t, sub.ID())

	_, err := f.apply.Handle(context.Background(), commands.ApplyCommand{SubscriptionID: sub.ID(), Trigger: domain.TriggerCancelAtPeriodEnd})
	require.NoError(t, err)
	f.clock.Set(snapshot.Period().End)

	report := &SweepReport{}
	err = f.sweeper.renew(context.Background(), snapshot, f.clock.Now(), report, func(n *int) { *n++ })
	assert.ErrorIs(t, err, errSkipped)
	assert.Zero(t, report.Renewed)
	assert.Zero(t, f.gateway.Calls())
	assert.Equal(t, snapshot.Period(), f.load(t, sub.ID()).Period())
}

func TestSweeper_RepeatedDeclinesEndUnpaid(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	f.gateway.Decline(sub.AccountID().String())
	periodEnd := f.load(t, sub.ID()).Period().End
	f.clock.Set(periodEnd)

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RenewalFailed)
	s := f.load(t, sub.ID())
	require.Equal(t, domain.StatusPastDue, s.Status())
	require.NotNil(t, s.NextPaymentAttempt())
	assert.Equal(t, periodEnd.Add(domain.DefaultDunningRetryInterval), *s.NextPaymentAttempt())

	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.RetryFailed, "no retry before the next attempt is due")
	assert.Equal(t, 1, f.gateway.Calls())

	for day := 1; day < domain.DefaultDunningThreshold; day++ {
		f.clock.Set(periodEnd.Add(time.Duration(day) * domain.DefaultDunningRetryInterval))
		report, err := f.sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.RetryFailed, "day %d", day)
		assert.Equal(t, day+1, f.load(t, sub.ID()).ConsecutiveFailures())
	}

	s = f.load(t, sub.ID())
	assert.Equal(t, domain.StatusUnpaid, s.Status())
	assert.Nil(t, s.NextPaymentAttempt())
	assert.Equal(t, domain.DefaultDunningThreshold, f.gateway.Calls(), "each attempt reaches the gateway once")
	assert.Zero(t, f.gateway.Charges())

	f.clock.Set(periodEnd.AddDate(0, 0, 30))
	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.RetryFailed+report.Recovered)
	assert.Equal(t, domain.DefaultDunningThreshold, f.gateway.Calls())
}

func TestSweeper_DunningRetryRecoversAndRollsOver(t *testing.T) {
	f := newSweepFixture(t)
	sub := f.subscription(t, "basic", domain.TriggerActivate)
	f.gateway.Decline(sub.AccountID().String())
	periodEnd := f.load(t, sub.ID()).Period().End
	f.clock.Set(periodEnd)

	_, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusPastDue, f.load(t, sub.ID()).Status())

	f.gateway.Accept(sub.AccountID().String())
	f.clock.Set(periodEnd.Add(domain.DefaultDunningRetryInterval))
	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 1, f.gateway.Charges())

	s := f.load(t, sub.ID())
	assert.Equal(t, domain.StatusActive, s.Status())
	assert.Zero(t, s.ConsecutiveFailures())
	assert.Nil(t, s.NextPaymentAttempt())
	assert.Equal(t, periodEnd, s.Period().Start)
	require.NotNil(t, s.NextBillingDate())
	assert.Equal(t, s.Period().End, *s.NextBillingDate())

	report, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Recovered+report.Renewed)
	assert.Equal(t, 1, f.gateway.Charges())
	assert.Equal(t, int64(1), f.metrics.GetCounter(observability.MetricSweepProcessed,
		observability.T("step", StepDunning), observability.T("outcome", "ok")))
}

func TestSweeper_RejectsInvalidSchedule(t *testing.T) {
	f := newSweepFixture(t)
	f.sweeper.config.Schedule = "not a schedule"

	err := f.sweeper.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, f.sweeper.IsRunning())
}
