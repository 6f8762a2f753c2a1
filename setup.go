package numstock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// Advisory lock keys. Arbitrary values, but every process working on the
// same database must use the same ones.
const (
	setupLockKey     int64 = 48151
	partitionLockKey int64 = 48152
)

// Setup creates the raw_pool and sales_history tables if they are missing.
// It takes an advisory lock first, so concurrent calls from many processes
// are safe, and it does nothing when the schema already exists. Call it
// once at application startup.
func Setup(ctx context.Context, db *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		q := pgstore.New(tx)

		if err := q.AcquireTxLock(ctx, setupLockKey); err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}

		ok, err := q.PoolTableExists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check if raw_pool table exists: %w", err)
		}
		if ok {
			return nil // Schema already exists, no need to set up
		}
		if err := q.CreateSchema(ctx); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	})
}
