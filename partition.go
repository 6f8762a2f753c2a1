package numstock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// PartitionName returns the name of the raw_pool partition holding rows
// imported on the UTC day of t, e.g. raw_pool_y2026m08d22.
func PartitionName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("raw_pool_y%04dm%02dd%02d", t.Year(), int(t.Month()), t.Day())
}

// PartitionBounds returns the [from, to) range covered by the partition
// holding rows imported on the UTC day of t.
func PartitionBounds(t time.Time) (from, to time.Time) {
	from = t.UTC().Truncate(24 * time.Hour)
	return from, from.Add(24 * time.Hour)
}

// EnsurePartitions creates the raw_pool partitions for days consecutive UTC
// days starting at the day of from. Each day is handled in its own
// transaction; existing partitions are left alone, so the call is
// idempotent and safe to run concurrently from many processes. An error
// aborts the remaining days, but partitions already created stay in place
// and the call can simply be repeated.
func (p *Pool) EnsurePartitions(ctx context.Context, from time.Time, days int) error {
	if days <= 0 {
		return fmt.Errorf("%w: days must be positive: %d", ErrInvalidConfig, days)
	}
	start, _ := PartitionBounds(from)
	for i := range days {
		day := start.AddDate(0, 0, i)
		if err := p.ensurePartition(ctx, day); err != nil {
			return fmt.Errorf("failed to ensure partition %s: %w", PartitionName(day), err)
		}
	}
	return nil
}

func (p *Pool) ensurePartition(ctx context.Context, day time.Time) error {
	name := PartitionName(day)
	from, to := PartitionBounds(day)

	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		q := pgstore.New(tx)

		// The advisory lock serializes creators in this process and
		// others, so the exists check below is not racing anyone.
		if err := q.AcquireTxLock(ctx, partitionLockKey); err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}

		exists, err := q.PartitionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check if partition exists: %w", err)
		}
		if exists {
			return nil
		}
		if err := q.CreatePartition(ctx, name, from, to); err != nil {
			return err
		}

		p.log.InfoContext(ctx, "created pool partition",
			"partition", name,
			"from", from,
			"to", to,
		)
		return nil
	})
	// A creator outside this code path can still win the race. Postgres
	// reports that as duplicate_table, which means the partition is there.
	if err != nil && pgstore.IsDuplicateTable(err) {
		return nil
	}
	return err
}
