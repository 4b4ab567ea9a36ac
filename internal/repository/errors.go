package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"traininghub-backend/internal/domain"
)

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsCheckViolation checks if the error is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514" // check_violation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// IsTransient reports errors worth retrying the whole transaction for:
// serialization failures, deadlocks, lost connections and timeouts.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || // serialization_failure
			pgErr.Code == "40P01" || // deadlock_detected
			strings.HasPrefix(pgErr.Code, "08") // connection_exception
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}

// translate maps driver errors onto domain errors. onDuplicate, when set, is
// returned for unique violations. Domain errors pass through unchanged.
func translate(err error, onDuplicate error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case onDuplicate != nil && IsUniqueViolation(err):
		return onDuplicate
	case IsTransient(err):
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	case IsCheckViolation(err):
		return fmt.Errorf("%w: %v", domain.ErrInvariant, err)
	}
	return err
}
