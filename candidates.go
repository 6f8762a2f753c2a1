package numstock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// Candidates returns the distinct numbers of provider imported at or after
// since, without consulting the sales ledger. Rows stream from the
// database; the caller must drain or Close the result. For allocation use
// an Allocator, which also applies the reuse exclusion and reserves
// atomically.
func (p *Pool) Candidates(ctx context.Context, provider Provider, since time.Time) (*CandidateRows, error) {
	rows, err := pgstore.New(p.db).SelectCandidates(ctx, string(provider), since)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	return &CandidateRows{rows: rows}, nil
}

// CandidateRows streams candidate numbers. Use it like pgx rows:
//
//	for rows.Next() {
//	    number := rows.Number()
//	    ...
//	}
//	if err := rows.Err(); err != nil { ... }
type CandidateRows struct {
	rows    pgx.Rows
	number  string
	scanErr error
}

// Next advances to the next number. It returns false when the stream is
// exhausted or failed; check Err afterwards.
func (r *CandidateRows) Next() bool {
	if r.scanErr != nil || !r.rows.Next() {
		return false
	}
	if err := r.rows.Scan(&r.number); err != nil {
		r.scanErr = err
		r.rows.Close()
		return false
	}
	return true
}

// Number returns the number Next advanced to.
func (r *CandidateRows) Number() string {
	return r.number
}

// Err returns the first error hit while streaming, if any.
func (r *CandidateRows) Err() error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return r.rows.Err()
}

// Close releases the underlying rows. It is safe to call more than once
// and after the stream is exhausted.
func (r *CandidateRows) Close() {
	r.rows.Close()
}

// Collect drains the remaining stream into a slice and closes it.
func (r *CandidateRows) Collect() ([]string, error) {
	defer r.Close()
	var numbers []string
	for r.Next() {
		numbers = append(numbers, r.number)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return numbers, nil
}
