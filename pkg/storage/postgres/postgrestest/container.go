//go:build integration

// Package postgrestest starts a disposable PostgreSQL container with the
// voxnote schema applied, for integration tests.
package postgrestest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/voxnote/pkg/observability"
	voxpg "github.com/platinummonkey/voxnote/pkg/storage/postgres"
)

// SetupPostgresContainer creates a migrated PostgreSQL test container. The
// container and its connection are released through t.Cleanup. Tests are
// skipped when no container runtime is available.
//
// Usage:
//
//	db := postgrestest.SetupPostgresContainer(t)
func SetupPostgresContainer(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("voxnote_test"),
		postgres.WithUsername("voxnote"),
		postgres.WithPassword("voxnote_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := voxpg.Open(ctx, voxpg.ConnectionConfig{URL: connStr, MaxConns: 20, Timeout: 10 * time.Second})
	require.NoError(t, err)

	require.NoError(t, voxpg.RunMigrations(ctx, db, observability.NewNopLogger()), "Failed to run migrations")

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close database: %v", err)
		}

		// Fresh context: the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	return db
}
