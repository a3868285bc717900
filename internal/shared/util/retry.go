package util

import (
	"context"
	"time"
)

// RetryErrWithContext calls fn up to maxTries times until it returns nil,
// sleeping backoff, 2*backoff, 4*backoff... between attempts. retryable
// decides whether a failure is worth another attempt; nil retries everything.
// Cancellation of ctx stops retrying immediately; a deadline that fn applies
// to a single attempt does not.
func RetryErrWithContext(ctx context.Context, maxTries int, backoff time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	delay := backoff
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == maxTries-1 || delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
