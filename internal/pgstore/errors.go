package pgstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the engine reacts to.
const (
	DuplicateTableCode       = "42P07"
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
)

// AsPgError unwraps err to a *pgconn.PgError if there is one.
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsDuplicateTable reports whether err is a duplicate_table error, raised
// when two sessions race to create the same partition.
func IsDuplicateTable(err error) bool {
	pgErr, ok := AsPgError(err)
	return ok && pgErr.Code == DuplicateTableCode
}

// IsSerializationFailure reports whether err is a serialization failure or
// deadlock. Transactions failing this way left no trace and may be retried.
func IsSerializationFailure(err error) bool {
	pgErr, ok := AsPgError(err)
	if !ok {
		return false
	}
	return pgErr.Code == SerializationFailureCode || pgErr.Code == DeadlockDetectedCode
}
