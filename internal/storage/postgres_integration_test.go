//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/shared/logger"
	"github.com/Alexander76Kuznetsov/mfdp/shared/postgresql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *postgresql.Client {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mfdp_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()), "Failed to terminate PostgreSQL container")
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	client, err := postgresql.Open(dsn, logger.NewDefault().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Migrate(ctx, Schema))
	return client
}

func TestPostgresStore_Contract(t *testing.T) {
	client := setupPostgres(t)
	log := logger.NewDefault().Logger

	runStoreContract(t, func(t *testing.T) Store {
		_, err := client.GetDB().Exec(`
			TRUNCATE job_failures, correlations, predictions, ml_tasks,
			         training_jobs, user_features, ml_models
			RESTART IDENTITY CASCADE
		`)
		require.NoError(t, err)
		return NewPostgresStore(client.GetDB(), log)
	})
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	client := setupPostgres(t)
	require.NoError(t, client.Migrate(context.Background(), Schema))
}
