package numstock

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for Config fields.
const (
	DefaultFreshnessWindowDays    = 3
	DefaultReuseWindowDays        = 30
	DefaultPartitionLookaheadDays = 4
	DefaultMaxAttempts            = 5
)

// Config carries the tunables shared by the numstock components. The zero
// value is not usable; start from DefaultConfig.
type Config struct {
	// FreshnessWindowDays is how many days back from order time an
	// ingested number stays eligible for allocation.
	FreshnessWindowDays int

	// ReuseWindowDays is how many days a sold number is withheld from
	// allocation before it may be sold again.
	ReuseWindowDays int

	// PartitionLookaheadDays is how many days of pool partitions, starting
	// today, setup creates ahead of ingestion.
	PartitionLookaheadDays int

	// MaxAttempts caps how often an order transaction is retried after
	// conflicting with concurrent orders.
	MaxAttempts int

	// OrderTimeout bounds one whole order including retries. Zero means
	// no timeout beyond the caller's context.
	OrderTimeout time.Duration

	// Prefixes maps number prefixes to providers at ingestion time.
	Prefixes PrefixTable
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		FreshnessWindowDays:    DefaultFreshnessWindowDays,
		ReuseWindowDays:        DefaultReuseWindowDays,
		PartitionLookaheadDays: DefaultPartitionLookaheadDays,
		MaxAttempts:            DefaultMaxAttempts,
		Prefixes:               DefaultPrefixes(),
	}
}

// Validate checks that every field is inside its allowed range.
func (c Config) Validate() error {
	if c.FreshnessWindowDays <= 0 {
		return fmt.Errorf("%w: freshness window days must be positive: %d", ErrInvalidConfig, c.FreshnessWindowDays)
	}
	if c.ReuseWindowDays <= 0 {
		return fmt.Errorf("%w: reuse window days must be positive: %d", ErrInvalidConfig, c.ReuseWindowDays)
	}
	if c.PartitionLookaheadDays <= 0 {
		return fmt.Errorf("%w: partition lookahead days must be positive: %d", ErrInvalidConfig, c.PartitionLookaheadDays)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive: %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.OrderTimeout < 0 {
		return fmt.Errorf("%w: order timeout cannot be negative: %s", ErrInvalidConfig, c.OrderTimeout)
	}
	if len(c.Prefixes) == 0 {
		return fmt.Errorf("%w: prefix table cannot be empty", ErrInvalidConfig)
	}
	if err := c.Prefixes.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// FreshnessWindow returns the freshness window as a duration.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowDays) * 24 * time.Hour
}

// ReuseWindow returns the reuse window as a duration.
func (c Config) ReuseWindow() time.Duration {
	return time.Duration(c.ReuseWindowDays) * 24 * time.Hour
}

// FromEnv overlays c with NUMSTOCK_* environment variables. Unset variables
// leave the corresponding field untouched.
//
//	NUMSTOCK_FRESHNESS_DAYS   integer, days
//	NUMSTOCK_REUSE_DAYS       integer, days
//	NUMSTOCK_LOOKAHEAD_DAYS   integer, days
//	NUMSTOCK_MAX_ATTEMPTS     integer
//	NUMSTOCK_ORDER_TIMEOUT    Go duration, e.g. 30s
//	NUMSTOCK_PREFIXES         prefix=provider pairs, e.g. 0812=tsel,0857=isat
func (c *Config) FromEnv() error {
	if err := envInt("NUMSTOCK_FRESHNESS_DAYS", &c.FreshnessWindowDays); err != nil {
		return err
	}
	if err := envInt("NUMSTOCK_REUSE_DAYS", &c.ReuseWindowDays); err != nil {
		return err
	}
	if err := envInt("NUMSTOCK_LOOKAHEAD_DAYS", &c.PartitionLookaheadDays); err != nil {
		return err
	}
	if err := envInt("NUMSTOCK_MAX_ATTEMPTS", &c.MaxAttempts); err != nil {
		return err
	}
	if v := os.Getenv("NUMSTOCK_ORDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: NUMSTOCK_ORDER_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.OrderTimeout = d
	}
	if v := os.Getenv("NUMSTOCK_PREFIXES"); v != "" {
		table, err := ParsePrefixTable(v)
		if err != nil {
			return fmt.Errorf("%w: NUMSTOCK_PREFIXES: %v", ErrInvalidConfig, err)
		}
		c.Prefixes = table
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	*dst = n
	return nil
}
