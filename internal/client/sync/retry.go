package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/syncbox/internal/metastore"
)

const DefaultRetries = 3

// notRetryable reports errors that are results of a remote call rather than failures of it,
// and local failures that another attempt won't fix.
func notRetryable(err error) bool {
	var ioErr *LocalIOError
	return errors.As(err, &ioErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, metastore.ErrNotFound) ||
		errors.Is(err, metastore.ErrConditionFailed)
}

// retry calls fn up to retries+1 times, immediately and without backoff.
// Once exhausted the last error is returned as a *ServiceError.
func retry(ctx context.Context, retries int, op string, fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	attempts := retries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil || notRetryable(err) {
			return err
		}
		slog.Debug("sync retry", "op", op, "attempt", attempt, "error", err)
	}

	return &ServiceError{Op: op, Attempts: attempts, Err: err}
}

// retryValue is retry for calls that return a value.
func retryValue[T any](ctx context.Context, retries int, op string, fn func() (T, error)) (T, error) {
	var result T
	err := retry(ctx, retries, op, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
