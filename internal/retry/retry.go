// Package retry is the single retry policy used at every retrying call
// site: bounded attempts, pluggable backoff, and a retryable-error
// predicate.
package retry

import (
	"context"
	"time"
)

type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// means every error is.
	Retryable func(error) bool
}

// Exponential returns base << attempt, counting attempts from zero.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Do runs fn up to MaxAttempts times, sleeping the backoff between
// attempts. It returns nil on the first success, the last error once
// attempts are exhausted or the error is not retryable, and the context
// error if the context ends first.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
