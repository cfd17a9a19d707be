// Package retry centralizes the (max_attempts, base_delay, factor,
// jitter) retry policy used uniformly by C5/C6/C7, per spec.md §9
// ("Retry policy: centralize in a small retry helper").
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64 // e.g. 0.2 for ±20%
}

// ForwardPolicy is the C6 forward-retry policy from spec.md §4.5: base
// 500ms, factor 2, max 3 attempts, jitter ±20%.
func ForwardPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Factor: 2, JitterFrac: 0.2}
}

// Do invokes fn up to p.MaxAttempts times, sleeping a jittered
// exponential backoff between attempts, stopping early when fn returns a
// nil error, ctx is done, or retryable returns false for the last error.
// retryable distinguishes transient from permanent errors per the error
// taxonomy in spec.md §7; a nil retryable treats every error as
// retryable.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := jitter(delay, p.JitterFrac)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * factor)
	}
	return err
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	span := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * span // uniform in [-span, +span]
	return time.Duration(float64(d) + offset)
}
