package dispatch

import (
	"context"
	"math/rand"
	"time"
)

// retryPolicy bounds the provider call loop.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

var defaultRetryPolicy = retryPolicy{maxAttempts: 3, baseDelay: 500 * time.Millisecond}

// delay computes the exponential backoff after the given failed attempt
// (1-based), with 10% jitter so agents that fail together spread out.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.baseDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	return d + jitter
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
