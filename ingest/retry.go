package ingest

import (
	"context"
	"time"
)

// RetryPolicy retries an operation with exponential backoff. One policy is
// shared by the chunked and non-chunked extraction paths.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Do runs op up to MaxAttempts times. The delay doubles after every failed
// attempt. Context cancellation aborts the wait and returns the last error.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
