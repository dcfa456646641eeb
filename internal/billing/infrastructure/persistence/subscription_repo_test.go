package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

func setupSQLite(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrations.Run(ctx, conn))
	return conn
}

func repositories() map[string]func(t *testing.T) domain.Repository {
	return map[string]func(t *testing.T) domain.Repository{
		"sqlite": func(t *testing.T) domain.Repository { return NewSQLSubscriptionRepository(setupSQLite(t)) },
		"memory": func(t *testing.T) domain.Repository { return NewMemorySubscriptionRepository() },
	}
}

func testPlan(t *testing.T, trialDays int) *catalog.Plan {
	t.Helper()
	plan, err := catalog.NewPlan(catalog.PlanSpec{
		ID:        "pro",
		Cycle:     catalog.CycleMonthly,
		Price:     catalog.Money{Amount: 2000, Currency: "USD"},
		Limits:    map[string]int64{"api_calls": 100},
		TrialDays: trialDays,
	}, 1, t0)
	require.NoError(t, err)
	return plan
}

func newSub(t *testing.T, plan *catalog.Plan) *domain.Subscription {
	t.Helper()
	s, err := domain.NewSubscription(domain.NewSubscriptionInput{
		ID: uuid.New(), AccountID: uuid.New(), Plan: plan,
	}, t0)
	require.NoError(t, err)
	return s
}

func TestSubscriptionRepositories_RoundTrip(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			plan := testPlan(t, 0)
			s := newSub(t, plan)
			require.NoError(t, repo.Create(ctx, s))

			require.NoError(t, s.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			require.NoError(t, s.RecordUsage(plan, "api_calls", 7, t0))
			require.NoError(t, s.AttachGateway(domain.Pairing{Provider: "stripe", CustomerRef: "cus_1", SubscriptionRef: "sub_1"}, t0))
			require.NoError(t, repo.Commit(ctx, s, 0))

			loaded, err := repo.Load(ctx, s.ID())
			require.NoError(t, err)
			assert.Equal(t, s.State(), loaded.State())
			assert.Equal(t, int64(3), loaded.Revision())
			assert.Equal(t, int64(7), loaded.Usage("api_calls").Used)

			byRef, err := repo.FindByExternalID(ctx, "stripe", "sub_1")
			require.NoError(t, err)
			assert.Equal(t, s.ID(), byRef.ID())

			byCustomer, err := repo.FindByCustomerRef(ctx, "stripe", "cus_1")
			require.NoError(t, err)
			assert.Equal(t, s.ID(), byCustomer.ID())

			list, err := repo.ListByAccount(ctx, s.AccountID())
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestSubscriptionRepositories_CommitIsCompareAndSwap(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			s := newSub(t, testPlan(t, 0))
			require.NoError(t, repo.Create(ctx, s))

			first, err := repo.Load(ctx, s.ID())
			require.NoError(t, err)
			second, err := repo.Load(ctx, s.ID())
			require.NoError(t, err)

			require.NoError(t, first.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			require.NoError(t, repo.Commit(ctx, first, 0))

			require.NoError(t, second.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			err = repo.Commit(ctx, second, 0)
			assert.ErrorIs(t, err, domain.ErrStaleWrite)

			missing := newSub(t, testPlan(t, 0))
			err = repo.Commit(ctx, missing, 0)
			assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)

			_, err = repo.Load(ctx, uuid.New())
			assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
		})
	}
}

func TestSubscriptionRepositories_PairingIsUnique(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			plan := testPlan(t, 0)

			a := newSub(t, plan)
			b := newSub(t, plan)
			require.NoError(t, repo.Create(ctx, a))
			require.NoError(t, repo.Create(ctx, b))

			pairing := domain.Pairing{Provider: "stripe", SubscriptionRef: "sub_shared"}
			require.NoError(t, a.AttachGateway(pairing, t0))
			require.NoError(t, repo.Commit(ctx, a, 0))

			require.NoError(t, b.AttachGateway(pairing, t0))
			err := repo.Commit(ctx, b, 0)
			assert.ErrorIs(t, err, domain.ErrPairingConflict)
		})
	}
}

func TestSubscriptionRepositories_SweepQueries(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)

			trial := newSub(t, testPlan(t, 14))
			require.NoError(t, repo.Create(ctx, trial))

			renewing := newSub(t, testPlan(t, 0))
			require.NoError(t, renewing.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			require.NoError(t, repo.Create(ctx, renewing))

			paired := newSub(t, testPlan(t, 0))
			require.NoError(t, paired.Apply(domain.TriggerActivate, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			require.NoError(t, paired.AttachGateway(domain.Pairing{Provider: "stripe", SubscriptionRef: "sub_p"}, t0))
			require.NoError(t, paired.Apply(domain.TriggerCancelAtPeriodEnd, domain.TriggerParams{}, domain.DefaultPolicy(), t0))
			require.NoError(t, repo.Create(ctx, paired))

			before := t0.AddDate(0, 0, 1)
			due, err := repo.FindDueForRenewal(ctx, before, 10)
			require.NoError(t, err)
			assert.Empty(t, due)

			later := t0.AddDate(0, 2, 0)
			due, err = repo.FindDueForRenewal(ctx, later, 10)
			require.NoError(t, err)
			require.Len(t, due, 1)
			assert.Equal(t, renewing.ID(), due[0].ID())

			cancelDue, err := repo.FindCancelDue(ctx, later, 10)
			require.NoError(t, err)
			require.Len(t, cancelDue, 1)
			assert.Equal(t, paired.ID(), cancelDue[0].ID())

			trials, err := repo.FindExpiredTrials(ctx, later, 10)
			require.NoError(t, err)
			require.Len(t, trials, 1)
			assert.Equal(t, trial.ID(), trials[0].ID())

			trials, err = repo.FindExpiredTrials(ctx, before, 10)
			require.NoError(t, err)
			assert.Empty(t, trials)
		})
	}
}

func TestSubscriptionRepositories_RenewalAndDunningSkipDueCancellations(t *testing.T) {
	for name, newRepo := range repositories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			policy := domain.DefaultPolicy()

			leaving := newSub(t, testPlan(t, 0))
			require.NoError(t, leaving.Apply(domain.TriggerActivate, domain.TriggerParams{}, policy, t0))
			require.NoError(t, leaving.Apply(domain.TriggerCancelAtPeriodEnd, domain.TriggerParams{}, policy, t0))
			require.NoError(t, repo.Create(ctx, leaving))

			dunning := newSub(t, testPlan(t, 0))
			require.NoError(t, dunning.Apply(domain.TriggerActivate, domain.TriggerParams{}, policy, t0))
			failedAt := dunning.Period().End
			require.NoError(t, dunning.Apply(domain.TriggerPaymentFailed, domain.TriggerParams{}, policy, failedAt))
			require.NoError(t, repo.Create(ctx, dunning))

			stored, err := repo.Load(ctx, dunning.ID())
			require.NoError(t, err)
			require.NotNil(t, stored.NextPaymentAttempt())
			retryAt := failedAt.Add(domain.DefaultDunningRetryInterval)
			assert.WithinDuration(t, retryAt, *stored.NextPaymentAttempt(), time.Second)

			later := t0.AddDate(0, 2, 0)
			due, err := repo.FindDueForRenewal(ctx, later, 10)
			require.NoError(t, err)
			assert.Empty(t, due, "a subscription due to cancel is never renewed")

			retries, err := repo.FindDunningDue(ctx, retryAt.Add(-time.Minute), 10)
			require.NoError(t, err)
			assert.Empty(t, retries)

			retries, err = repo.FindDunningDue(ctx, retryAt, 10)
			require.NoError(t, err)
			require.Len(t, retries, 1)
			assert.Equal(t, dunning.ID(), retries[0].ID())

			require.NoError(t, dunning.Apply(domain.TriggerCancelAtPeriodEnd, domain.TriggerParams{}, policy, retryAt))
			require.NoError(t, repo.Commit(ctx, dunning, stored.Revision()))
			retries, err = repo.FindDunningDue(ctx, retryAt, 10)
			require.NoError(t, err)
			assert.Empty(t, retries, "cancel-at already passed")
		})
	}
}
