package testhelpers

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDatabase is a migrated Postgres container with a ready pool.
type TestDatabase struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// NewTestDatabase starts Postgres, applies the goose migrations in migrationsPath and registers cleanup on t.
func NewTestDatabase(t *testing.T, migrationsPath string) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "failed to connect to database")
	require.NoError(t, pool.Ping(ctx), "failed to ping database")

	absPath, err := filepath.Abs(migrationsPath)
	require.NoError(t, err)
	runMigrations(t, pool, absPath)

	td := &TestDatabase{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}
	t.Cleanup(td.Close)
	return td
}

// Close releases the pool and terminates the container.
func (td *TestDatabase) Close() {
	td.Pool.Close()
	_ = td.Container.Terminate(context.Background())
}

// Clean truncates every table so tests can share one container.
func (td *TestDatabase) Clean(t *testing.T) {
	t.Helper()
	_, err := td.Pool.Exec(context.Background(),
		`TRUNCATE TABLE bids, auction_invitations, auction_watchers, outbox_events, auctions CASCADE`)
	require.NoError(t, err, "failed to truncate tables")
}

func runMigrations(t *testing.T, pool *pgxpool.Pool, migrationsDir string) {
	t.Helper()

	// Goose requires a *sql.DB, so we create one from the pgx pool config
	connStr := stdlib.RegisterConnConfig(pool.Config().ConnConfig)
	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "failed to create sql.DB for goose")
	defer db.Close()

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, migrationsDir), "failed to run migrations")
}
