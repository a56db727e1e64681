package postgres

import (
	"errors"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that mean "another transaction got in the way".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// Classify maps driver errors onto the apperr taxonomy. Errors that are
// already classified pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return apperr.Conflict(err)
		case codeUniqueViolation, codeCheckViolation:
			// duplicate idempotency key or a counter pushed below zero by a racing writer
			return apperr.Conflict(err)
		}
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
