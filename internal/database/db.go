package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolationCode      = "23505"
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
)

// Queryable is satisfied by both *sqlx.DB and *sqlx.Tx, allowing store methods
// to be used both inside and outside of a transaction.
type Queryable interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back - otherwise
// the transaction is committed.
func WrapTx(ctx context.Context, db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Debugf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}

// InExec is a convenience method which combines sqlx's `In` method
// and the `Exec` of the output query. Rebinding of the
// query is handled automatically, and errors resulting from
// either step will be returned.
func InExec(ctx context.Context, db Queryable, query string, arg any) error {
	q, a, err := sqlx.In(query, arg)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, db.Rebind(q), a...)
	return err
}

// IsUniqueViolation returns true if the error provided (or any error it wraps)
// is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasPqCode(err, uniqueViolationCode)
}

// IsRetryableConflict returns true if the error represents a conflict between
// concurrent transactions which is expected to succeed if the transaction is
// simply tried again (unique violations from racing inserts, serialization
// failures and deadlocks).
func IsRetryableConflict(err error) bool {
	return hasPqCode(err, uniqueViolationCode, serializationFailureCode, deadlockDetectedCode)
}

func hasPqCode(err error, codes ...string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	for _, code := range codes {
		if string(pqErr.Code) == code {
			return true
		}
	}

	return false
}
