// Retry policy shared by all adapters.
//
// DESIGN: One Complete call = up to maxAttempts provider calls inside a
// single timeout budget. A failure is retried only when it classifies as
// retryable (errors.go), there is an attempt left, and enough of the budget
// remains to sit out the backoff. An expired deadline always ends the loop
// immediately: the overall budget is spent, retrying would overshoot it.
package adapters

import (
	"context"
	"time"
)

const (
	// defaultTimeout bounds a Complete call when the request carries none.
	defaultTimeout = 60 * time.Second

	// backoffBase is the first retry delay; it doubles per attempt.
	backoffBase = 250 * time.Millisecond

	// maxAttempts is the initial call plus at most one retry.
	maxAttempts = 2
)

// attemptTimeout resolves the effective budget for one Complete call.
func attemptTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// doWithRetry runs attempt under ctx, retrying once on a retryable failure
// after an exponential backoff. ctx must already carry the request deadline.
func doWithRetry(ctx context.Context, attempt func(context.Context) (*CompletionResponse, error)) (*CompletionResponse, error) {
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		resp, err := attempt(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Deadline exhausted: fail now, a retry cannot fit.
		if ctx.Err() != nil {
			break
		}
		if !IsRetryable(err) {
			break
		}
		if i == maxAttempts-1 {
			break
		}

		backoff := backoffBase << i
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= backoff {
			break
		}

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}
