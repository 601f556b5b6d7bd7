// Package retry provides bounded exponential backoff for calls against
// remote cluster backends.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy configures the retry behavior.
type Policy struct {
	MaxRetries   int           // maximum retries (0 means no retry)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // add random jitter to avoid retry storms
	// RetryIf decides whether an error is worth retrying. When nil every
	// error is retried.
	RetryIf func(error) bool
}

// DefaultPolicy returns a policy suited to remote cluster RPC calls.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes functions under a retry policy.
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// New creates a Retryer. A nil policy falls back to DefaultPolicy and a nil
// logger to a no-op logger.
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do runs fn, retrying per the policy until it succeeds, the error is
// classified as non-retryable, the retry budget is spent, or ctx is done.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if r.policy.RetryIf != nil && !r.policy.RetryIf(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// delay computes the backoff for the given attempt.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		// ±25% to spread simultaneous retries
		jitter := d * 0.25
		d += (rand.Float64()*2 - 1) * jitter
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}
