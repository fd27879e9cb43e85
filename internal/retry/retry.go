// Package retry provides the backoff policy shared by the evaluator and the
// deployer.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"diaharness/internal/fault"
)

// Policy configures exponential backoff with jitter.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is a fraction in [0, 1]; the delay varies by ±Jitter of its value.
	Jitter float64
}

// DefaultPolicy returns 3 attempts starting at 1s, doubling up to 30s with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("initial backoff must be >= 0, got %s", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff %s is below initial backoff %s", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0, 1], got %v", p.Jitter)
	}
	return nil
}

// BackOff returns a fresh exponential schedule for the policy. Schedules are
// stateful, so every retried operation gets its own.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff < p.InitialBackoff {
		maxBackoff = p.InitialBackoff
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          multiplier,
		MaxInterval:         maxBackoff,
	}
	b.Reset()
	return b
}

// Result summarizes a retried operation.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Func is one attempt; attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Retrier runs functions under a Policy. The zero value is not usable; call New.
type Retrier struct {
	policy    Policy
	retryable func(error) bool
	schedule  func() backoff.BackOff
	onRetry   func(attempt int, delay time.Duration, err error)
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithClassifier overrides which errors are retried (default fault.IsRetryable).
func WithClassifier(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryable = fn }
}

// WithoutDelay retries immediately, mainly for tests.
func WithoutDelay() Option {
	return func(r *Retrier) {
		r.schedule = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New builds a Retrier. Invalid policies fall back to a single attempt.
func New(policy Policy, opts ...Option) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{
		policy:    policy,
		retryable: fault.IsRetryable,
	}
	r.schedule = func() backoff.BackOff { return r.policy.BackOff() }
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the configured policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempts, or ctx is done. The returned error is always the last error fn
// produced, or ctx's error when fn never ran.
func (r *Retrier) Do(ctx context.Context, fn Func) (Result, error) {
	start := time.Now()
	var result Result
	operation := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			if result.LastError == nil {
				result.LastError = err
			}
			return struct{}{}, backoff.Permanent(result.LastError)
		}
		result.Attempts++
		err := fn(ctx, result.Attempts)
		result.LastError = err
		if err != nil && !r.retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, delay time.Duration) {
		if r.onRetry != nil {
			r.onRetry(result.Attempts, delay, err)
		}
	}

	// The library's own error is ignored: it reports ctx's cause on
	// cancellation, while callers need the last attempt's error.
	_, _ = backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.schedule()),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	result.TotalDuration = time.Since(start)
	return result, result.LastError
}
