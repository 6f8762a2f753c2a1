package numstock

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// DB is the connection pool to use. Required. The caller keeps
	// ownership and closes it.
	DB *pgxpool.Pool

	// Prefixes decides each ingested number's provider. Defaults to
	// DefaultPrefixes.
	Prefixes PrefixTable

	// Logger receives structured logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c PoolConfig) Validate() error {
	if c.DB == nil {
		return fmt.Errorf("%w: DB cannot be nil", ErrInvalidConfig)
	}
	if c.Prefixes != nil {
		if err := c.Prefixes.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Pool is the store of ingested numbers. It owns the raw_pool table: its
// partitions, ingestion into it, and candidate reads from it. It does not
// close the underlying connection pool.
type Pool struct {
	db       *pgxpool.Pool
	prefixes PrefixTable
	log      *slog.Logger
}

// NewPool returns a Pool using the given configuration.
func NewPool(conf PoolConfig) (*Pool, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	prefixes := conf.Prefixes
	if prefixes == nil {
		prefixes = DefaultPrefixes()
	}
	logger := conf.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		db:       conf.DB,
		prefixes: prefixes,
		log:      logger,
	}, nil
}
