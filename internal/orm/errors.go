package orm

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/conduit-lang/restkit/internal/state"
)

var (
	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrNoManager is returned for classes without a table
	ErrNoManager = errors.New("no manager for class")
)

// ConstraintError reports a violated database constraint
type ConstraintError struct {
	Err    error
	Detail string
}

func (e *ConstraintError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// StatusCode returns 409 for unique violations, 422 otherwise
func (e *ConstraintError) StatusCode() int {
	if errors.Is(e.Err, ErrUniqueViolation) {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

// ConvertDBError converts driver errors to pipeline errors. Both pgx and
// lib/pq error types are recognized.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return state.NotFound("Not Found")
	}

	var code, detail, column string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code, detail, column = pgErr.Code, pgErr.Detail, pgErr.ColumnName
	case errors.As(err, &pqErr):
		code, detail, column = string(pqErr.Code), pqErr.Detail, pqErr.Column
	default:
		return err
	}

	switch code {
	case "23505": // unique_violation
		return &ConstraintError{Err: ErrUniqueViolation, Detail: detail}
	case "23503": // foreign_key_violation
		return &ConstraintError{Err: ErrForeignKeyViolation, Detail: detail}
	case "23514": // check_violation
		return &ConstraintError{Err: ErrCheckViolation, Detail: detail}
	case "23502": // not_null_violation
		return &ConstraintError{Err: ErrNotNullViolation, Detail: fmt.Sprintf("column %s", column)}
	}
	return err
}

// IsRetryable reports deadlocks (40P01) and serialization failures (40001)
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40P01" || pqErr.Code == "40001"
	}
	return false
}
