package numstock_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/prasetyo/numstock"
	"github.com/prasetyo/numstock/internal"
)

// testDB returns a connection pool with the schema in place, skipping the
// test when postgres is not reachable.
func testDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	db := internal.PoolOrSkip(t)
	require.NoError(t, numstock.Setup(context.Background(), db), "Setup should not return an error")
	return db
}

// testProvider returns a number prefix and provider unique to one test, so
// tests sharing a database never see each other's numbers.
func testProvider(t *testing.T) (string, numstock.Provider) {
	t.Helper()
	prefix := fmt.Sprintf("99%06d", rand.IntN(1000000))
	return prefix, numstock.Provider("prov" + prefix)
}

// testPool returns a Pool mapping prefix to provider, with partitions
// covering the two weeks around now so backdated ingests land somewhere.
func testPool(t *testing.T, db *pgxpool.Pool, prefix string, provider numstock.Provider) *numstock.Pool {
	t.Helper()
	pool, err := numstock.NewPool(numstock.PoolConfig{
		DB:       db,
		Prefixes: numstock.PrefixTable{prefix: provider},
		Logger:   discardLogger(),
	})
	require.NoError(t, err, "failed to create pool")
	err = pool.EnsurePartitions(context.Background(), time.Now().AddDate(0, 0, -12), 15)
	require.NoError(t, err, "failed to ensure partitions")
	return pool
}

func testAllocator(t *testing.T, db *pgxpool.Pool) *numstock.Allocator {
	t.Helper()
	allocator, err := numstock.NewAllocator(numstock.AllocatorConfig{
		DB:     db,
		Logger: discardLogger(),
	})
	require.NoError(t, err, "failed to create allocator")
	return allocator
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testNumbers returns n distinct numbers under prefix.
func testNumbers(prefix string, n int) []string {
	numbers := make([]string, n)
	for i := range n {
		numbers[i] = fmt.Sprintf("%s%07d", prefix, i)
	}
	return numbers
}

// ingestAt appends the numbers with the given import timestamp.
func ingestAt(t *testing.T, pool *numstock.Pool, numbers []string, at time.Time) numstock.IngestResult {
	t.Helper()
	records := make([]numstock.IngestRecord, len(numbers))
	for i, number := range numbers {
		records[i] = numstock.IngestRecord{
			Number:     number,
			Source:     "test.example.com",
			ImportedAt: at,
		}
	}
	result, err := pool.AppendRecords(context.Background(), records)
	require.NoError(t, err, "failed to ingest records")
	return result
}
