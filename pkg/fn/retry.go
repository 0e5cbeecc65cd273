package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// ShouldRetry decides whether a failure is worth another attempt.
	// nil retries everything.
	ShouldRetry func(error) bool
}

// DefaultRetry matches the engine's provider contract: three attempts,
// 200ms base, doubling, with jitter.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
}

// Retry runs f up to MaxAttempts times with exponential backoff.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultRetry.MaxAttempts
	}
	wait := opts.InitialWait
	if wait <= 0 {
		wait = DefaultRetry.InitialWait
	}

	var result Result[T]
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		_, err := result.Unwrap()
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleep):
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}
