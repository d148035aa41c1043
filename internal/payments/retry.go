package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// RetryPolicy bounds the exponential backoff applied to transient gateway
// failures. Retries live at the adapter layer only; callers above never retry
// so a flaky network can never create a second remote session.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy is used when a provider is configured without one.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

// retry runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. Exhaustion surfaces as ErrUnavailable so the
// caller can distinguish "gateway down" from "payment failed".
func (p RetryPolicy) retry(ctx context.Context, transient func(error) bool, fn func(context.Context) error) error {
	p = p.normalized()
	backoff := gax.Backoff{
		Initial:    p.InitialDelay,
		Max:        p.MaxDelay,
		Multiplier: p.Multiplier,
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if transient == nil || !transient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, p.MaxAttempts, lastErr)
}
