package numstock

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// RecordSource yields ingest records one at a time. Implementations return
// io.EOF when the source is exhausted; any other error aborts the
// ingestion run.
type RecordSource interface {
	Next() (IngestRecord, error)
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	// Rows is the number of pool rows written.
	Rows int64

	// Elapsed is how long the run took, including the commit.
	Elapsed time.Duration

	// Batch is the label the rows were written under.
	Batch string

	// Providers lists the distinct providers seen in the batch, sorted.
	Providers []Provider
}

// IngestOption customizes one Append call.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	batch string
}

// WithBatch sets the batch label stored with every row of the run, usually
// the name of the file the numbers came from. Unset, a random label is
// generated.
func WithBatch(label string) IngestOption {
	return func(o *ingestOptions) {
		o.batch = label
	}
}

// Append streams records from src into the pool in a single transaction
// and returns what was written. Rows are routed to partitions by their
// ImportedAt day, so the covering partitions must exist; see
// EnsurePartitions. On commit, one stock notification is emitted per
// distinct provider in the batch.
//
// Either every record of the run is written or none.
func (p *Pool) Append(ctx context.Context, src RecordSource, opts ...IngestOption) (IngestResult, error) {
	options := ingestOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.batch == "" {
		options.batch = uuid.NewString()
	}

	start := time.Now()
	copySrc := &recordCopySource{
		src:       src,
		prefixes:  p.prefixes,
		batch:     options.batch,
		providers: make(map[Provider]struct{}),
	}

	var rows int64
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		q := pgstore.New(tx)

		n, err := q.CopyPoolRecords(ctx, copySrc)
		if err != nil {
			return fmt.Errorf("failed to copy pool records: %w", err)
		}
		rows = n

		// Notifications ride the transaction and are delivered on commit,
		// so waiters never observe a batch that rolled back.
		for provider := range copySrc.providers {
			if err := q.NotifyStock(ctx, stockChannel, string(provider)); err != nil {
				return fmt.Errorf("failed to notify stock for %s: %w", provider, err)
			}
		}
		return nil
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to append batch %s: %w", options.batch, err)
	}

	result := IngestResult{
		Rows:      rows,
		Elapsed:   time.Since(start),
		Batch:     options.batch,
		Providers: make([]Provider, 0, len(copySrc.providers)),
	}
	for provider := range copySrc.providers {
		result.Providers = append(result.Providers, provider)
	}
	slices.Sort(result.Providers)

	p.log.InfoContext(ctx, "appended pool records",
		"batch", result.Batch,
		"rows", result.Rows,
		"providers", result.Providers,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// AppendRecords is Append for an in-memory slice.
func (p *Pool) AppendRecords(ctx context.Context, records []IngestRecord, opts ...IngestOption) (IngestResult, error) {
	return p.Append(ctx, &sliceSource{records: records}, opts...)
}

type sliceSource struct {
	records []IngestRecord
	next    int
}

func (s *sliceSource) Next() (IngestRecord, error) {
	if s.next >= len(s.records) {
		return IngestRecord{}, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}

// recordCopySource adapts a RecordSource to the pgx COPY protocol, deriving
// each row's provider on the way through and remembering the distinct
// providers seen.
type recordCopySource struct {
	src       RecordSource
	prefixes  PrefixTable
	batch     string
	providers map[Provider]struct{}

	row PoolRecord
	err error
}

var _ pgx.CopyFromSource = (*recordCopySource)(nil)

func (s *recordCopySource) Next() bool {
	rec, err := s.src.Next()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("record source: %w", err)
		return false
	}
	if rec.Number == "" {
		s.err = fmt.Errorf("record has no number")
		return false
	}
	if rec.ImportedAt.IsZero() {
		s.err = fmt.Errorf("record %s has no import timestamp", rec.Number)
		return false
	}

	provider := s.prefixes.Provider(rec.Number)
	s.providers[provider] = struct{}{}
	s.row = PoolRecord{
		Number:     rec.Number,
		Provider:   provider,
		Source:     rec.Source,
		ImportedAt: rec.ImportedAt.UTC(),
		Batch:      s.batch,
	}
	return true
}

func (s *recordCopySource) Values() ([]any, error) {
	return []any{s.row.Number, string(s.row.Provider), s.row.Source, s.row.ImportedAt, s.row.Batch}, nil
}

func (s *recordCopySource) Err() error {
	return s.err
}
