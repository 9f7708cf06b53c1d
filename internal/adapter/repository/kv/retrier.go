package kv

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/iho/kvledger/internal/domain"
)

// Retrier implements usecase.Retrier with exponential backoff and jitter. It
// retries lost optimistic locks and transient storage failures; everything
// else is permanent.
type Retrier struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *slog.Logger
	onRetry         func()
}

// NewRetrier creates a retrier capped at maxAttempts tries of the operation.
func NewRetrier(maxAttempts int) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		maxAttempts:     maxAttempts,
		initialInterval: 10 * time.Millisecond,
		maxInterval:     1 * time.Second,
		logger:          slog.Default(),
	}
}

// OnRetry registers a callback invoked once per retry, after the failed
// attempt. The server uses it to count commit retries.
func (r *Retrier) OnRetry(fn func()) *Retrier {
	r.onRetry = fn
	return r
}

// Retry executes an operation, backing off between attempts on retryable
// errors. The error of the final attempt is returned on exhaustion.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0

	attempts := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}

		attempts++
		if attempts >= r.maxAttempts {
			return backoff.Permanent(err)
		}

		r.logger.Warn("retryable ledger commit error, retrying",
			"error", err,
			"attempt", attempts,
		)
		if r.onRetry != nil {
			r.onRetry()
		}

		return err
	}, backoff.WithContext(b, ctx))
}

// isRetryableError checks whether another attempt can possibly succeed.
func isRetryableError(err error) bool {
	return errors.Is(err, domain.ErrOptimisticLock) || IsTransient(err)
}
