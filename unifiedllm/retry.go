package unifiedllm

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls how a failed stream open is retried. Quota errors
// are never retried: the caller's fallback chain handles them.
type RetryPolicy struct {
	MaxRetries int           // attempts after the first
	BaseDelay  time.Duration // first backoff, doubled per attempt
	MaxDelay   time.Duration // cap on any single wait, including Retry-After
	Jitter     bool          // scale each backoff by [0.5, 1.5)
	OnRetry    func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default stream-open retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Delay returns the backoff before retry attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

// wait picks the delay for attempt: the provider's Retry-After when it sent
// one, else the backoff.
func (p RetryPolicy) wait(err error, attempt int) time.Duration {
	if pe := providerDetails(err); pe != nil && pe.RetryAfter != nil && *pe.RetryAfter > 0 {
		d := time.Duration(*pe.RetryAfter * float64(time.Second))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return d
	}
	return p.Delay(attempt)
}

func shouldRetry(err error) bool {
	return IsRetryable(err) && !IsQuotaError(err)
}

// Retry calls fn until it succeeds, fails with an error that should not be
// retried, or the policy runs out of attempts. Cancelling ctx while waiting
// returns an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !shouldRetry(err) {
			return zero, err
		}

		delay := policy.wait(err, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "stream open cancelled while backing off", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}
