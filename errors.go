package numstock

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabaseUnavailable wraps failures to reach the database at all,
	// as opposed to statements that ran and failed.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrTxConflict is reported when an order kept colliding with
	// concurrent transactions and ran out of attempts. Nothing was
	// reserved; the order may be retried.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrInvalidOrder is wrapped by order validation failures.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidConfig is wrapped by configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// OrderError reports a failed order. Err carries the underlying cause and
// is reachable through errors.Is and errors.As.
type OrderError struct {
	// Customer is the customer the failed order was for.
	Customer string

	// Attempts is how many times the order transaction was tried.
	Attempts int

	// Err is the error from the last attempt.
	Err error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order for %s failed after %d attempt(s): %v", e.Customer, e.Attempts, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err describes a transient condition where
// retrying the same call can succeed. Allocation left no partial state in
// these cases.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxConflict) || errors.Is(err, ErrDatabaseUnavailable)
}
