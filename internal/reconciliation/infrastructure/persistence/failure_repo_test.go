package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrations.Run(ctx, conn))
	return conn
}

func TestFailureRepositories(t *testing.T) {
	repos := map[string]func(t *testing.T) domain.FailureRepository{
		"sqlite": func(t *testing.T) domain.FailureRepository { return NewSQLFailureRepository(setupSQLite(t)) },
		"memory": func(t *testing.T) domain.FailureRepository { return NewMemoryFailureRepository() },
	}
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for name, newRepo := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			subID := uuid.New()

			first := domain.NewFailure("stripe", "evt_1", "invoice.paid", &subID, "stale write", []byte(`{"id":"evt_1"}`), now)
			require.NoError(t, repo.Record(ctx, first))

			again := domain.NewFailure("stripe", "evt_1", "invoice.paid", nil, "still stale", []byte(`{"id":"evt_1"}`), now.Add(time.Minute))
			require.NoError(t, repo.Record(ctx, again))
			assert.Equal(t, first.ID, again.ID, "an open failure is updated in place")
			assert.Equal(t, 2, again.Attempts)

			other := domain.NewFailure("generic", "evt_2", "payment_failed", nil, "boom", []byte(`{}`), now.Add(time.Hour))
			require.NoError(t, repo.Record(ctx, other))

			open, err := repo.List(ctx, domain.FailureFilter{})
			require.NoError(t, err)
			require.Len(t, open, 2)
			assert.Equal(t, other.ID, open[0].ID, "newest first")

			found, err := repo.Find(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "still stale", found.Reason)
			assert.Equal(t, 2, found.Attempts)
			require.NotNil(t, found.SubscriptionID)
			assert.Equal(t, subID, *found.SubscriptionID)
			assert.JSONEq(t, `{"id":"evt_1"}`, string(found.Payload))

			require.NoError(t, found.Resolve("replayed", now.Add(2*time.Hour)))
			require.NoError(t, repo.Save(ctx, found))

			open, err = repo.List(ctx, domain.FailureFilter{})
			require.NoError(t, err)
			assert.Len(t, open, 1)

			all, err := repo.List(ctx, domain.FailureFilter{IncludeResolved: true, Provider: "stripe"})
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "replayed", all[0].ResolutionNote)

			_, err = repo.Find(ctx, uuid.New())
			assert.ErrorIs(t, err, domain.ErrFailureNotFound)
		})
	}
}
