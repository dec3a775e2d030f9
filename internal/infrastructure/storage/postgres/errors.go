package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"clinicstock/internal/core/apperror"
)

// SQLSTATE codes classified by MapError.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// MapError converts driver failures into AppError categories.
// AppErrors and nil pass through unchanged; unclassified errors are returned
// as is and end up as INTERNAL_ERROR at the HTTP boundary.
func MapError(err error, resource string) error {
	if err == nil || apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateLockNotAvailable:
			return apperror.NewLockTimeout(resource).WithCause(err)
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return apperror.NewConcurrentModification(resource, pgErr.TableName).WithCause(err)
		case sqlStateUniqueViolation:
			return apperror.NewDuplicate(tableOr(pgErr, resource), pgErr.ConstraintName, pgErr.Detail).WithCause(err)
		case sqlStateForeignKeyViolation:
			return apperror.NewValidation("referenced record does not exist").
				WithDetail("constraint", pgErr.ConstraintName).
				WithCause(err)
		case sqlStateQueryCanceled:
			return apperror.NewTimeout(err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.NewTimeout(err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

func tableOr(pgErr *pgconn.PgError, fallback string) string {
	if pgErr.TableName != "" {
		return pgErr.TableName
	}
	return fallback
}
