package numstock_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyo/numstock"
	"github.com/prasetyo/numstock/internal/pgstore"
)

func TestAllocator_ProcessOrder(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	numbers := testNumbers(prefix, 20)
	ingestAt(t, pool, numbers, time.Now())

	customer := "cust_" + prefix
	result, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     customer,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 5}},
	})
	require.NoError(t, err)

	require.Len(t, result.Requirements, 1)
	req := result.Requirements[0]
	assert.Equal(t, provider, req.Provider)
	assert.Equal(t, 5, req.Found)
	assert.Equal(t, 5, req.Requested)
	assert.False(t, req.Shortage)
	assert.Len(t, req.Numbers, 5)
	assert.Subset(t, numbers, req.Numbers, "allocated numbers must come from the pool")
	assert.False(t, result.Shortage())
	assert.False(t, result.ProcessedAt.IsZero())

	// Every allocation is recorded as a ledger row.
	count, err := pgstore.New(db).CountSalesByCustomer(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestAllocator_ProcessOrder_Shortage(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	ingestAt(t, pool, testNumbers(prefix, 10), time.Now())

	customer := "cust_" + prefix
	result, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     customer,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 15}},
	})
	require.NoError(t, err, "a shortage is not an error")

	req := result.Requirements[0]
	assert.Equal(t, 10, req.Found)
	assert.Equal(t, 15, req.Requested)
	assert.True(t, req.Shortage)
	assert.True(t, result.Shortage())

	// What was found stays reserved.
	count, err := pgstore.New(db).CountSalesByCustomer(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestAllocator_ProcessOrder_FreshnessWindow(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	// Only stale stock: imported ten days ago, default window is three.
	ingestAt(t, pool, testNumbers(prefix, 5), time.Now().AddDate(0, 0, -10))

	order := numstock.Order{
		Customer:     "cust_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 5}},
	}

	result, err := allocator.ProcessOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Requirements[0].Found, "stale numbers are not allocatable")
	assert.True(t, result.Shortage())

	// Widening the window for one order brings them back.
	result, err = allocator.ProcessOrder(ctx, order,
		numstock.WithFreshnessWindow(14*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Requirements[0].Found)
	assert.False(t, result.Shortage())
}

func TestAllocator_ProcessOrder_ReuseWindow(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	number := prefix + "0000001"
	ingestAt(t, pool, []string{number}, time.Now())

	// The number was sold five days ago to someone else.
	ledger, err := numstock.NewLedger(db)
	require.NoError(t, err)
	err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		return ledger.Record(ctx, tx, numstock.Sale{
			Number:   number,
			Customer: "earlier_" + prefix,
			SoldAt:   time.Now().AddDate(0, 0, -5),
		})
	})
	require.NoError(t, err)

	order := numstock.Order{
		Customer:     "cust_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 1}},
	}

	// Inside the default 30 day reuse window the number is withheld.
	result, err := allocator.ProcessOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Requirements[0].Found, "recently sold numbers are withheld")

	// With a two day reuse window the five day old sale no longer blocks.
	result, err = allocator.ProcessOrder(ctx, order,
		numstock.WithReuseWindow(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requirements[0].Found)
	assert.Equal(t, []string{number}, result.Requirements[0].Numbers)
}

func TestAllocator_ProcessOrder_LaterRequirementsExcludeEarlier(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	ingestAt(t, pool, testNumbers(prefix, 10), time.Now())

	// Two requirements for the same provider in one order must not share
	// numbers: 6 + 6 over a pool of 10 fills as 6 + 4.
	result, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer: "cust_" + prefix,
		Requirements: []numstock.Requirement{
			{Provider: provider, Quantity: 6},
			{Provider: provider, Quantity: 6},
		},
	})
	require.NoError(t, err)

	first, second := result.Requirements[0], result.Requirements[1]
	assert.Equal(t, 6, first.Found)
	assert.Equal(t, 4, second.Found)
	assert.True(t, second.Shortage)

	seen := make(map[string]bool)
	for _, number := range result.Reserved() {
		require.False(t, seen[number], "number %s reserved twice in one order", number)
		seen[number] = true
	}
	assert.Len(t, seen, 10)
}

func TestAllocator_ProcessOrder_SequentialOrdersAreDisjoint(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	ingestAt(t, pool, testNumbers(prefix, 30), time.Now())

	first, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     "first_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 20, first.Requirements[0].Found)

	second, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     "second_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, second.Requirements[0].Found, "second order gets only what is left")
	assert.True(t, second.Shortage())

	for _, number := range second.Requirements[0].Numbers {
		assert.NotContains(t, first.Requirements[0].Numbers, number,
			"number %s sold to both customers", number)
	}
}

func TestAllocator_ProcessOrder_DuplicatePoolRowsSellOnce(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)
	allocator := testAllocator(t, db)

	// The same number twice in the pool must still be sellable only once.
	number := prefix + "0000001"
	now := time.Now()
	ingestAt(t, pool, []string{number}, now)
	ingestAt(t, pool, []string{number}, now)

	result, err := allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     "cust_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requirements[0].Found, "duplicates collapse to one candidate")

	result, err = allocator.ProcessOrder(ctx, numstock.Order{
		Customer:     "other_" + prefix,
		Requirements: []numstock.Requirement{{Provider: provider, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Requirements[0].Found, "the second duplicate row is not sellable")
}

func TestAllocator_ProcessOrder_ValidatesOrder(t *testing.T) {
	db := testDB(t)
	allocator := testAllocator(t, db)

	_, err := allocator.ProcessOrder(context.Background(), numstock.Order{})
	require.Error(t, err)
	assert.ErrorIs(t, err, numstock.ErrInvalidOrder)

	_, err = allocator.ProcessOrder(context.Background(), numstock.Order{
		Customer:     "acme",
		Requirements: []numstock.Requirement{{Provider: "tsel", Quantity: -1}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, numstock.ErrInvalidOrder)
}

// TestAllocator_ProcessOrder_Concurrent hammers one small pool with
// concurrent orders and verifies that no number is ever sold twice.
func TestAllocator_ProcessOrder_Concurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	ctx := context.Background()
	db := testDB(t)
	prefix, provider := testProvider(t)
	pool := testPool(t, db, prefix, provider)

	const poolSize = 20
	const workers = 6
	const perOrder = 5

	ingestAt(t, pool, testNumbers(prefix, poolSize), time.Now())

	allocator, err := numstock.NewAllocator(numstock.AllocatorConfig{
		DB:          db,
		MaxAttempts: 12,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(workers)
	results := make([]*numstock.OrderResult, workers)
	errs := make([]error, workers)
	for i := range workers {
		go func() {
			defer wg.Done()
			results[i], errs[i] = allocator.ProcessOrder(ctx, numstock.Order{
				Customer:     fmt.Sprintf("cust_%s_%d", prefix, i),
				Requirements: []numstock.Requirement{{Provider: provider, Quantity: perOrder}},
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "order %d should succeed within its retry budget", i)
	}

	allocated := make(map[string]int)
	total := 0
	for _, result := range results {
		for _, number := range result.Reserved() {
			allocated[number]++
			total++
		}
	}
	for number, count := range allocated {
		assert.Equalf(t, 1, count, "number %s was sold %d times", number, count)
	}
	assert.Equal(t, poolSize, total, "every number should be sold exactly once across all orders")
}

func TestNewAllocator_Validates(t *testing.T) {
	_, err := numstock.NewAllocator(numstock.AllocatorConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, numstock.ErrInvalidConfig)

	db := testDB(t)
	_, err = numstock.NewAllocator(numstock.AllocatorConfig{
		DB:          db,
		ReuseWindow: -time.Hour,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, numstock.ErrInvalidConfig)
}
