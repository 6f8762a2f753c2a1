package numstock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prasetyo/numstock/internal/pgstore"
)

// AllocatorConfig configures an Allocator.
type AllocatorConfig struct {
	// DB is the connection pool to use. Required. The caller keeps
	// ownership and closes it.
	DB *pgxpool.Pool

	// FreshnessWindow is how far back from order time an ingested number
	// stays eligible. Defaults to 3 days.
	FreshnessWindow time.Duration

	// ReuseWindow is how long a sold number is withheld before it may be
	// sold again. Defaults to 30 days.
	ReuseWindow time.Duration

	// MaxAttempts caps how often an order transaction is retried after a
	// serialization conflict. Defaults to 5.
	MaxAttempts int

	// OrderTimeout bounds one ProcessOrder call including retries. Zero
	// leaves only the caller's context in charge.
	OrderTimeout time.Duration

	// Logger receives structured logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c AllocatorConfig) Validate() error {
	if c.DB == nil {
		return fmt.Errorf("%w: DB cannot be nil", ErrInvalidConfig)
	}
	if c.FreshnessWindow < 0 {
		return fmt.Errorf("%w: freshness window cannot be negative: %s", ErrInvalidConfig, c.FreshnessWindow)
	}
	if c.ReuseWindow < 0 {
		return fmt.Errorf("%w: reuse window cannot be negative: %s", ErrInvalidConfig, c.ReuseWindow)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts cannot be negative: %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.OrderTimeout < 0 {
		return fmt.Errorf("%w: order timeout cannot be negative: %s", ErrInvalidConfig, c.OrderTimeout)
	}
	return nil
}

// Allocator fills orders from the pool. Every order runs as one
// serializable transaction, so two orders can never be sold the same
// number inside the reuse window: Postgres aborts one of the colliding
// transactions and the Allocator retries it on a fresh snapshot, where the
// winner's reservations are visible and excluded.
type Allocator struct {
	db          *pgxpool.Pool
	freshness   time.Duration
	reuse       time.Duration
	maxAttempts int
	timeout     time.Duration
	log         *slog.Logger
}

// NewAllocator returns an Allocator using the given configuration.
func NewAllocator(conf AllocatorConfig) (*Allocator, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid allocator configuration: %w", err)
	}
	a := &Allocator{
		db:          conf.DB,
		freshness:   conf.FreshnessWindow,
		reuse:       conf.ReuseWindow,
		maxAttempts: conf.MaxAttempts,
		timeout:     conf.OrderTimeout,
		log:         conf.Logger,
	}
	if a.freshness == 0 {
		a.freshness = time.Duration(DefaultFreshnessWindowDays) * 24 * time.Hour
	}
	if a.reuse == 0 {
		a.reuse = time.Duration(DefaultReuseWindowDays) * 24 * time.Hour
	}
	if a.maxAttempts == 0 {
		a.maxAttempts = DefaultMaxAttempts
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a, nil
}

// OrderOption customizes one ProcessOrder call.
type OrderOption func(*orderOptions)

type orderOptions struct {
	freshness time.Duration
	reuse     time.Duration
}

// WithFreshnessWindow overrides the allocator's freshness window for one
// order.
func WithFreshnessWindow(d time.Duration) OrderOption {
	return func(o *orderOptions) {
		o.freshness = d
	}
}

// WithReuseWindow overrides the allocator's reuse window for one order.
func WithReuseWindow(d time.Duration) OrderOption {
	return func(o *orderOptions) {
		o.reuse = d
	}
}

// ProcessOrder reserves numbers for every requirement of the order and
// appends the sales to the ledger, all in one transaction. A requirement
// finding fewer numbers than requested is reported as a shortage in the
// result, not as an error; what was found stays reserved.
//
// On a serialization conflict with a concurrent order the transaction is
// retried up to MaxAttempts times. Failures return a *OrderError; when the
// attempts ran out it wraps ErrTxConflict and nothing was reserved.
func (a *Allocator) ProcessOrder(ctx context.Context, order Order, opts ...OrderOption) (*OrderResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	options := orderOptions{freshness: a.freshness, reuse: a.reuse}
	for _, opt := range opts {
		opt(&options)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		result, err := a.runOrder(ctx, order, options)
		if err == nil {
			a.logResult(ctx, result, attempt)
			return result, nil
		}
		if !pgstore.IsSerializationFailure(err) {
			return nil, &OrderError{Customer: order.Customer, Attempts: attempt, Err: err}
		}
		lastErr = err
		a.log.WarnContext(ctx, "order conflicted with concurrent transaction, retrying",
			"customer", order.Customer,
			"attempt", attempt,
		)
		select {
		case <-ctx.Done():
			return nil, &OrderError{Customer: order.Customer, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return nil, &OrderError{
		Customer: order.Customer,
		Attempts: a.maxAttempts,
		Err:      fmt.Errorf("%w: %w", ErrTxConflict, lastErr),
	}
}

// runOrder is one attempt: a single serializable transaction reserving
// every requirement. Requirements run in sequence against the same
// snapshot, and because reservation inserts the ledger rows in the same
// statement that selects the numbers, earlier requirements are already
// excluded when later ones run.
func (a *Allocator) runOrder(ctx context.Context, order Order, options orderOptions) (*OrderResult, error) {
	conn, err := a.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	defer conn.Release()

	now := time.Now().UTC()
	result := &OrderResult{
		Customer:     order.Customer,
		ProcessedAt:  now,
		Requirements: make([]RequirementResult, 0, len(order.Requirements)),
	}

	err = pgx.BeginTxFunc(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		q := pgstore.New(tx)
		for _, req := range order.Requirements {
			numbers, err := q.ReserveNumbers(ctx, pgstore.ReserveNumbersParams{
				Customer:        order.Customer,
				SoldAt:          now,
				Provider:        string(req.Provider),
				FreshnessCutoff: now.Add(-options.freshness),
				ReuseCutoff:     now.Add(-options.reuse),
				Quantity:        req.Quantity,
			})
			if err != nil {
				return fmt.Errorf("failed to reserve %d %s numbers: %w", req.Quantity, req.Provider, err)
			}
			result.Requirements = append(result.Requirements, RequirementResult{
				Provider:  req.Provider,
				Numbers:   numbers,
				Found:     len(numbers),
				Requested: req.Quantity,
				Shortage:  len(numbers) < req.Quantity,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Allocator) logResult(ctx context.Context, result *OrderResult, attempts int) {
	for _, req := range result.Requirements {
		if req.Shortage {
			a.log.WarnContext(ctx, "order requirement short",
				"customer", result.Customer,
				"provider", req.Provider,
				"requested", req.Requested,
				"found", req.Found,
			)
		}
	}
	a.log.InfoContext(ctx, "order processed",
		"customer", result.Customer,
		"requirements", len(result.Requirements),
		"reserved", len(result.Reserved()),
		"shortage", result.Shortage(),
		"attempts", attempts,
	)
}
