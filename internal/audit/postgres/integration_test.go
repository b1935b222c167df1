//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kpilens/kpilens/internal/audit"
	"github.com/kpilens/kpilens/internal/migrations"
)

func TestStoreRoundTripAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15",
		postgres.WithDatabase("kpilens"),
		postgres.WithUsername("kpilens"),
		postgres.WithPassword("kpilens"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, DBConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = migrations.NewRunner().Up(ctx, db, 0)
	require.NoError(t, err)

	store := New(db)
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, kind := range []string{"SUCCESS", "VALIDATION_REJECTED", "SUCCESS"} {
		require.NoError(t, store.Record(ctx, audit.Entry{
			ID:          uuid.NewString(),
			Operation:   audit.OperationAsk,
			Question:    "q",
			OutcomeKind: kind,
			Attempts:    1,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	successes, err := store.List(ctx, audit.Filter{OutcomeKind: "SUCCESS", Limit: 1})
	require.NoError(t, err)
	require.Len(t, successes, 1)
	require.Equal(t, "SUCCESS", successes[0].OutcomeKind)
}
