package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/hhledger/internal/apperrors"
)

// dbError wraps err with the prefix and marks it as apperrors.ErrStoreUnavailable
// when the failed statement left nothing behind and may be retried
func dbError(prefix string, err error) error {
	if transient(err) {
		return fmt.Errorf("%s: %w: %w", prefix, apperrors.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable,
			pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow, pgerrcode.TooManyConnections:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

func pgErrorCode(err error) (code string, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}
