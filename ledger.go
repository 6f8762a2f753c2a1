package numstock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// Ledger is the append-only record of sales. Orders write to it through
// Allocator; Ledger is for direct reads and manual appends, such as
// backfilling sales made outside the system so the reuse exclusion knows
// about them.
type Ledger struct {
	db *pgxpool.Pool
}

// NewLedger returns a Ledger reading from db.
func NewLedger(db *pgxpool.Pool) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db cannot be nil", ErrInvalidConfig)
	}
	return &Ledger{db: db}, nil
}

// Record appends one sale inside the caller's transaction. Rows are never
// updated or deleted afterwards; selling a number again later appends a
// new row.
func (l *Ledger) Record(ctx context.Context, tx pgx.Tx, sale Sale) error {
	if sale.Number == "" {
		return fmt.Errorf("sale has no number")
	}
	if sale.Customer == "" {
		return fmt.Errorf("sale of %s has no customer", sale.Number)
	}
	if sale.SoldAt.IsZero() {
		return fmt.Errorf("sale of %s has no timestamp", sale.Number)
	}
	err := pgstore.New(tx).InsertSale(ctx, pgstore.InsertSaleParams{
		Number:   sale.Number,
		Customer: sale.Customer,
		SoldAt:   sale.SoldAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record sale of %s: %w", sale.Number, err)
	}
	return nil
}

// SoldSince reports whether number has a sale at or after cutoff, which is
// exactly the test excluding a number from allocation.
func (l *Ledger) SoldSince(ctx context.Context, number string, cutoff time.Time) (bool, error) {
	sold, err := pgstore.New(l.db).SaleExistsSince(ctx, number, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to check sales of %s: %w", number, err)
	}
	return sold, nil
}
