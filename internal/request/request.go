// Package request implements the Resilient Request Executor.
//
// The executor wraps single-shot request/response operations with
// retry-with-backoff and error classification. It does not deduplicate:
// callers must pass idempotent operations or accept at-least-once side
// effects for writes.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scanboard/realtime/internal/backoff"
)

// StatusError is an error carrying the HTTP status of a completed response.
// It is the only contract the executor requires from an underlying
// transport; failures without a StatusError are treated as "no response
// received" and are always retryable.
type StatusError struct {
	Code    int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status indicates a possibly transient
// failure: any 5xx, 429 (rate limited), or 422 (transient validation
// inconsistency). Everything else (400, 401, 403, 404, ...) is terminal.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 429 || e.Code == 422
}

// Options configure one executor.
type Options struct {
	MaxRetries int            // retries after the first attempt
	Policy     backoff.Policy // delay between attempts
	Logger     *slog.Logger
}

// Do runs op with retry-with-backoff. Each call owns its own attempt
// bookkeeping; concurrent calls share no state. On a terminal failure, or
// after the final allowed attempt, the original error is returned.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := opts.Policy.Delay(attempt - 1)
			logger.Debug("retrying request",
				"attempt", attempt,
				"delay", delay,
			)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// retryable classifies a failure. Context cancellation is terminal; a
// StatusError defers to its own classification; anything else means no
// response was received at all and is retryable.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
