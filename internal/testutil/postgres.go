// Package testutil provides shared test infrastructure: a disposable
// PostgreSQL instance with pgvector, deterministic model and embedder
// fakes, and small helpers for tenant-scoped fixtures.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/supplymind/copilot/db"
)

// TestDB is a throwaway PostgreSQL instance with the full copilot schema.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a pgvector-enabled PostgreSQL container, applies all
// embedded migrations, and returns a ready connection pool. The cleanup
// function terminates the container; call it from defer.
//
// Callers live behind the integration build tag, since they need Docker.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()
	tdb, cleanup, err := SetupTestDBForMain()
	if err != nil {
		t.Fatal(err)
	}
	return tdb, cleanup
}

// SetupTestDBForMain is the TestMain variant of SetupTestDB: it returns
// errors instead of failing a *testing.T, so a package can start one shared
// container for all of its integration tests.
func SetupTestDBForMain() (*TestDB, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("copilot_test"),
		postgres.WithUsername("copilot_test"),
		postgres.WithPassword("copilot_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("reading connection string: %w", err)
	}

	// The embedded migrations create the schema exactly as production does.
	if err := db.Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	tdb := &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}
	cleanup := func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	}
	return tdb, cleanup, nil
}

// CleanTables truncates all copilot tables for test isolation.
func CleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE embeddings, messages, sessions, suggestions CASCADE`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}
