// Package retry wraps asynchronous operations with bounded
// exponential-backoff retry. Each call is independent; there is no
// shared state between invocations.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxRetries is the total number of attempts for an operation
	DefaultMaxRetries = 3

	// DefaultDelay is the base backoff delay before the first retry
	DefaultDelay = 1 * time.Second
)

// Options tunes a single Do invocation
type Options struct {
	// MaxRetries is the total attempt count (not additional retries).
	// Zero or negative selects DefaultMaxRetries.
	MaxRetries int

	// Delay is the base backoff. The wait before retry i (1-based) is
	// Delay * 2^(i-1). No jitter, no cap; acceptable for small
	// MaxRetries.
	Delay time.Duration
}

func (o Options) normalized() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	return o
}

// Backoff returns the wait before the given 1-based retry index
func (o Options) Backoff(retry int) time.Duration {
	o = o.normalized()
	return o.Delay * time.Duration(1<<(retry-1))
}

// Do invokes fn, retrying on failure with exponential backoff until it
// succeeds or opts.MaxRetries attempts have been made. The last failure
// is propagated unchanged.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value
func DoValue[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.normalized()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == opts.MaxRetries {
			break
		}

		delay := opts.Backoff(attempt)
		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("maxRetries", opts.MaxRetries).
			Dur("delay", delay).
			Msg("operation failed, backing off")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// sleep waits for the delay or until the context is cancelled
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
