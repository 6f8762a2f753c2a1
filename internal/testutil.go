package internal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GetPool returns a connection pool to the PostgreSQL database configured
// through DATABASE_URL or the standard PG* variables.
func GetPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PoolOrSkip returns a connection pool for integration tests, skipping the
// test when no database is reachable. The pool is closed when the test
// completes.
func PoolOrSkip(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := GetPool(context.Background())
	if err != nil {
		t.Skipf("skipping: postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// ConnString builds the connection string for tests and the CLI.
// DATABASE_URL wins; otherwise it is assembled from PGHOST, PGPORT, PGUSER,
// PGPASSWORD and PGDATABASE with local defaults.
func ConnString() string {
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		return connStr
	}

	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "postgres")
	password := getEnvOrDefault("PGPASSWORD", "postgres")
	database := getEnvOrDefault("PGDATABASE", "postgres")

	if password != "" {
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, database,
		)
	}
	return fmt.Sprintf(
		"postgres://%s@%s:%s/%s?sslmode=disable",
		user, host, port, database,
	)
}

// getEnvOrDefault retrieves an environment variable or returns a default
// value if the variable is not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
