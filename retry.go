package verdict

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for remote backends.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff after each retry.
	BackoffMultiplier float64

	// Jitter randomizes the backoff, 0.1 meaning ±10%.
	Jitter float64

	// RetryIf decides whether an error is worth retrying. Nil retries
	// everything.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer runs operations with exponential backoff between attempts.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a retryer, clamping out-of-range configuration to the
// defaults.
func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = 0.1
	}
	return &Retryer{config: config}
}

// RetryResult describes the outcome of a retried operation.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do runs op until it succeeds, exhausts the attempt budget, hits a
// non-retryable error or the context is done.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	_, result := r.DoWithResult(ctx, func() (any, error) {
		return nil, op()
	})
	return result
}

// DoWithResult is Do for operations that produce a value. The value of the
// first successful attempt is returned.
func (r *Retryer) DoWithResult(ctx context.Context, op func() (any, error)) (any, RetryResult) {
	backoff := r.config.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		value, err := op()
		if err == nil {
			return value, RetryResult{Attempts: attempt}
		}
		lastErr = err

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return nil, RetryResult{Attempts: attempt, LastErr: err}
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-time.After(r.addJitter(backoff)):
		}

		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}

	return nil, RetryResult{Attempts: r.config.MaxAttempts, LastErr: lastErr}
}

func (r *Retryer) addJitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	spread := float64(d) * r.config.Jitter
	return time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
}

// IsRetryable reports whether an error looks transient. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"503",
		"502",
		"504",
		"429",
	} {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}
