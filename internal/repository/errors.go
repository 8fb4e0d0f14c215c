package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/labreserve/service-booking/pkg/domain"
)

// SQLSTATE codes that signal contention rather than a semantic failure.
const (
	sqlStateLockNotAvailable     = "55P03"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateSerializationFailure = "40001"
	sqlStateQueryCanceled        = "57014"
)

// classifyError maps lock waits, deadlocks and timeouts to a retryable
// ContentionError. Domain errors and nil pass through unchanged.
func classifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsDomainError(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateLockNotAvailable, sqlStateDeadlockDetected, sqlStateSerializationFailure, sqlStateQueryCanceled:
			return domain.NewContentionError(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewContentionError(err)
	}
	return err
}
