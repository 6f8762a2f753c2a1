// Package pgstore holds the SQL executed by numstock against PostgreSQL.
//
// Queries works over a DBTX so the same methods run against a pgxpool.Pool,
// a single connection, or a transaction. Higher layers decide transaction
// boundaries; nothing in this package begins or commits one.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx execution methods Queries needs. It is satisfied
// by *pgxpool.Pool, *pgx.Conn, and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// New returns a Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries executes numstock's statements against a DBTX.
type Queries struct {
	db DBTX
}

//go:embed schema.sql
var schemaSQL string

// CreateSchema creates the raw_pool and sales_history tables with their
// indexes. Statements use IF NOT EXISTS, so it is safe to run repeatedly.
func (q *Queries) CreateSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	return nil
}

// AcquireTxLock takes a transaction-scoped advisory lock. It blocks until
// the lock is granted and releases automatically at commit or rollback.
func (q *Queries) AcquireTxLock(ctx context.Context, key int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

const poolTableExists = `SELECT to_regclass('raw_pool') IS NOT NULL`

// PoolTableExists reports whether the raw_pool parent table exists.
func (q *Queries) PoolTableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, poolTableExists).Scan(&exists)
	return exists, err
}

const partitionExists = `SELECT to_regclass($1) IS NOT NULL`

// PartitionExists reports whether a relation with the given name exists.
func (q *Queries) PartitionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, partitionExists, name).Scan(&exists)
	return exists, err
}

// Partition names are generated, never user input, but DDL cannot be
// parameterized so the name is still validated before interpolation.
var partitionNameRE = regexp.MustCompile(`^raw_pool_y\d{4}m\d{2}d\d{2}$`)

const partitionBoundLayout = "2006-01-02 15:04:05+00"

// CreatePartition attaches a new range partition [from, to) to raw_pool.
// A concurrent creator surfaces as SQLSTATE 42P07; callers decide whether
// that is an error.
func (q *Queries) CreatePartition(ctx context.Context, name string, from, to time.Time) error {
	if !partitionNameRE.MatchString(name) {
		return fmt.Errorf("invalid partition name %q", name)
	}
	stmt := fmt.Sprintf(
		`CREATE TABLE %s PARTITION OF raw_pool FOR VALUES FROM ('%s') TO ('%s')`,
		name,
		from.UTC().Format(partitionBoundLayout),
		to.UTC().Format(partitionBoundLayout),
	)
	_, err := q.db.Exec(ctx, stmt)
	return err
}

const listPartitions = `
SELECT c.relname
FROM pg_inherits i
JOIN pg_class c ON c.oid = i.inhrelid
JOIN pg_class p ON p.oid = i.inhparent
WHERE p.relname = 'raw_pool'
ORDER BY c.relname
`

// ListPartitions returns the names of all partitions attached to raw_pool.
func (q *Queries) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, listPartitions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PoolColumns is the column order CopyPoolRecords expects from its source.
var PoolColumns = []string{"phone_number", "provider", "url_source", "imported_at", "file_source"}

// CopyPoolRecords streams rows into raw_pool using the COPY protocol and
// returns the number of rows written. Rows are routed to partitions by
// imported_at; a row with no matching partition fails the whole copy.
func (q *Queries) CopyPoolRecords(ctx context.Context, src pgx.CopyFromSource) (int64, error) {
	return q.db.CopyFrom(ctx, pgx.Identifier{"raw_pool"}, PoolColumns, src)
}

// NotifyStock emits a NOTIFY on channel with the given payload. Inside a
// transaction the notification is delivered only on commit.
func (q *Queries) NotifyStock(ctx context.Context, channel, payload string) error {
	_, err := q.db.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	return err
}

const selectCandidates = `
SELECT DISTINCT phone_number
FROM raw_pool
WHERE provider = $1 AND imported_at >= $2
`

// SelectCandidates returns the distinct numbers of a provider imported at or
// after since. The caller owns the returned rows and must close them.
func (q *Queries) SelectCandidates(ctx context.Context, provider string, since time.Time) (pgx.Rows, error) {
	return q.db.Query(ctx, selectCandidates, provider, since)
}

const reserveNumbers = `
INSERT INTO sales_history (phone_number, customer_name, sold_at)
SELECT c.phone_number, $1, $2
FROM (
    SELECT DISTINCT r.phone_number
    FROM raw_pool r
    WHERE r.provider = $3
      AND r.imported_at >= $4
      AND NOT EXISTS (
          SELECT 1
          FROM sales_history s
          WHERE s.phone_number = r.phone_number
            AND s.sold_at >= $5
      )
    LIMIT $6
) c
RETURNING phone_number
`

// ReserveNumbersParams bundles the inputs of one reservation statement.
type ReserveNumbersParams struct {
	Customer        string
	SoldAt          time.Time
	Provider        string
	FreshnessCutoff time.Time
	ReuseCutoff     time.Time
	Quantity        int
}

// ReserveNumbers selects up to Quantity distinct numbers of a provider that
// were imported at or after FreshnessCutoff and have no sale at or after
// ReuseCutoff, appends them to sales_history, and returns them. Selection
// and append are one statement, so rows written by an earlier call in the
// same transaction are already excluded from later calls.
func (q *Queries) ReserveNumbers(ctx context.Context, arg ReserveNumbersParams) ([]string, error) {
	rows, err := q.db.Query(ctx, reserveNumbers,
		arg.Customer,
		arg.SoldAt,
		arg.Provider,
		arg.FreshnessCutoff,
		arg.ReuseCutoff,
		arg.Quantity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := make([]string, 0, arg.Quantity)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}

const insertSale = `
INSERT INTO sales_history (phone_number, customer_name, sold_at)
VALUES ($1, $2, $3)
`

// InsertSaleParams bundles the inputs of a single ledger append.
type InsertSaleParams struct {
	Number   string
	Customer string
	SoldAt   time.Time
}

// InsertSale appends one row to sales_history.
func (q *Queries) InsertSale(ctx context.Context, arg InsertSaleParams) error {
	_, err := q.db.Exec(ctx, insertSale, arg.Number, arg.Customer, arg.SoldAt)
	return err
}

const saleExistsSince = `
SELECT EXISTS (
    SELECT 1 FROM sales_history
    WHERE phone_number = $1 AND sold_at >= $2
)
`

// SaleExistsSince reports whether number has a sale at or after cutoff.
func (q *Queries) SaleExistsSince(ctx context.Context, number string, cutoff time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, saleExistsSince, number, cutoff).Scan(&exists)
	return exists, err
}

const countPoolNumber = `SELECT count(*) FROM raw_pool WHERE phone_number = $1`

// CountPoolNumber returns how many pool rows carry the given number,
// counting duplicates across batches.
func (q *Queries) CountPoolNumber(ctx context.Context, number string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countPoolNumber, number).Scan(&n)
	return n, err
}

const countSalesByCustomer = `SELECT count(*) FROM sales_history WHERE customer_name = $1`

// CountSalesByCustomer returns how many ledger rows belong to customer.
func (q *Queries) CountSalesByCustomer(ctx context.Context, customer string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSalesByCustomer, customer).Scan(&n)
	return n, err
}
