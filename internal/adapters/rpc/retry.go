package rpc

import (
	"context"
	"errors"
	"time"
)

// Policy controls retries against a single endpoint.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// retryable reports whether err should be retried against the same endpoint:
// transport failures, timeouts and throttling or gateway statuses. JSON-RPC
// errors, malformed responses and undialable endpoints move straight to the
// next endpoint.
func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	var rpcErr *ResponseError
	if errors.As(err, &rpcErr) {
		return false
	}
	return !errors.Is(err, ErrMalformedResponse) && !errors.Is(err, ErrDial)
}

func (p Policy) do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			break
		}

		wait := p.BaseDelay << (attempt - 1)
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
