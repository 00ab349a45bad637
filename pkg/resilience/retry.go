package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffRetryOption configures backoff retry behavior
type BackoffRetryOption func(*backoffConfig)

type backoffConfig struct {
	maxElapsed   time.Duration
	maxRetries   int64 // negative means unlimited
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	constant     bool
	onRetry      func(err error, duration time.Duration)
	classifier   func(error) bool // returns true if error is retryable
}

// WithMaxElapsed sets the maximum total time for retries
func WithMaxElapsed(d time.Duration) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.maxElapsed = d
	}
}

// WithMaxRetries sets the maximum number of retries after the first
// attempt. Zero means the operation runs exactly once.
func WithMaxRetries(n uint64) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.maxRetries = int64(n)
	}
}

// WithInitialDelay sets the initial delay between retries
func WithInitialDelay(d time.Duration) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.initialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries
func WithMaxDelay(d time.Duration) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.maxDelay = d
	}
}

// WithConstantDelay waits exactly d between attempts, without jitter
func WithConstantDelay(d time.Duration) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.constant = true
		c.initialDelay = d
	}
}

// WithOnRetry sets a callback for each retry attempt
func WithOnRetry(fn func(err error, duration time.Duration)) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.onRetry = fn
	}
}

// WithRetryClassifier sets a function to determine if an error is retryable
func WithRetryClassifier(fn func(error) bool) BackoffRetryOption {
	return func(c *backoffConfig) {
		c.classifier = fn
	}
}

// RetryWithBackoff runs operation until it succeeds, the retry budget is
// spent, the classifier marks an error permanent, or ctx is done.
func RetryWithBackoff(ctx context.Context, operation func() error, opts ...BackoffRetryOption) error {
	cfg := &backoffConfig{
		maxElapsed:   2 * time.Minute,
		maxRetries:   -1,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		classifier:   DefaultRetryClassifier,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	var bo backoff.BackOff
	if cfg.constant {
		bo = backoff.NewConstantBackOff(cfg.initialDelay)
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.initialDelay
		b.MaxInterval = cfg.maxDelay
		b.MaxElapsedTime = cfg.maxElapsed
		b.Multiplier = cfg.multiplier
		b.RandomizationFactor = 0.1
		bo = b
	}

	if cfg.maxRetries >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(cfg.maxRetries))
	}

	bo = backoff.WithContext(bo, ctx)

	wrappedOp := func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if cfg.classifier != nil && !cfg.classifier(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	if cfg.onRetry != nil {
		return backoff.RetryNotify(wrappedOp, bo, cfg.onRetry)
	}

	return backoff.Retry(wrappedOp, bo)
}

// DefaultRetryClassifier determines if an error is retryable. Cancellation
// and an open circuit are permanent; everything else is retried.
func DefaultRetryClassifier(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if IsCircuitOpen(err) {
		return false
	}

	return true
}

// RetryAll treats every error as retryable
func RetryAll(error) bool {
	return true
}
