package postgres

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/ferbecerra/rifago/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Connection-level retry policy for individual storage calls. Contention
// retries (unique-constraint losers) are handled above this layer; here we only
// retry errors that say nothing about the data, then surface
// repository.ErrStorageUnavailable.
const (
	retryAttempts    = 3
	retryBackoffBase = 150 * time.Millisecond
)

func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// serialization_failure, deadlock_detected
		case "40001", "40P01":
			return true
		// connection_exception class
		case "08000", "08003", "08006", "57P01":
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.SafeToRetry(err)
}

// withRetry runs fn up to retryAttempts times with jittered, growing backoff.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) || attempt >= retryAttempts {
			break
		}

		backoff := time.Duration(attempt) * retryBackoffBase
		backoff += rand.N(retryBackoffBase)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	if err != nil && IsRetryable(err) {
		return errors.Join(repository.ErrStorageUnavailable, err)
	}

	return err
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		// unique_violation
		if pge.Code == "23505" {
			return repository.ErrConflict
		}
	}

	return err
}
