package services

import (
	"context"
	"time"
)

// RetryPolicy is the single retry/backoff strategy shared by the billing
// orchestrator. Only errors the policy classifies as retryable are retried;
// insufficient funds in particular never is.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool
}

// NewRetryPolicy builds the default policy: maxAttempts tries with linear
// backoff (base * attempt) on transient store errors.
func NewRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return base * time.Duration(attempt)
		},
		Retryable: IsTransient,
	}
}

// Do runs op until it succeeds, fails non-retryably, or attempts run out.
// The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return err
}
