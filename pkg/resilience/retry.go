package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to ±10% to avoid thundering herd
	Jitter bool
	// RetryableErrors is a function that determines if an error is retryable
	RetryableErrors func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default.
// Timeouts, rate limits, and server-class failures retry; circuit rejections
// and client-class failures do not.
func DefaultRetryableErrors(err error) bool {
	return errors.IsRetryable(err)
}

// RetryAttempt records one attempt within a retry sequence
type RetryAttempt struct {
	Number    int           `json:"number"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	// NextDelay is the backoff scheduled after this attempt; zero for the
	// final attempt of a sequence
	NextDelay time.Duration `json:"next_delay,omitempty"`
}

// RetryOutcome is the structured result of a full retry sequence. The
// executor never fails on its own account: exhausted retries, non-retryable
// errors, and cancellation are all reported here, not raised.
type RetryOutcome struct {
	Success  bool
	Value    interface{}
	Err      error
	Attempts int
	Elapsed  time.Duration
	History  []RetryAttempt
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	return NewRetrierWithSeed(config, time.Now().UnixNano())
}

// NewRetrierWithSeed creates a retrier with a deterministic jitter source.
// Tests inject fixed seeds to make delay sequences reproducible.
func NewRetrierWithSeed(config RetryConfig, seed int64) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Execute runs the given operation with retry logic and returns the full
// outcome. The sequence stops early on a non-retryable error or cancelled
// context; no delay is incurred after the final attempt.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) *RetryOutcome {
	outcome := &RetryOutcome{
		History: make([]RetryAttempt, 0, r.config.MaxAttempts),
	}
	start := time.Now()
	defer func() {
		outcome.Elapsed = time.Since(start)
	}()

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			outcome.Err = ctx.Err()
			return outcome
		}

		attemptStart := time.Now()
		value, err := operation(ctx)
		record := RetryAttempt{
			Number:    attempt,
			StartedAt: attemptStart,
			Duration:  time.Since(attemptStart),
			Success:   err == nil,
		}

		if err == nil {
			outcome.History = append(outcome.History, record)
			outcome.Attempts = attempt
			outcome.Success = true
			outcome.Value = value
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return outcome
		}

		record.Error = err.Error()
		outcome.Err = err
		outcome.Attempts = attempt

		// Check if error is retryable
		if !r.config.RetryableErrors(err) {
			outcome.History = append(outcome.History, record)
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return outcome
		}

		// Don't schedule a delay after the last attempt
		if attempt == r.config.MaxAttempts {
			outcome.History = append(outcome.History, record)
			break
		}

		delay := r.calculateDelay(attempt)
		record.NextDelay = delay
		outcome.History = append(outcome.History, record)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay,
		)

		// Call retry callback if provided
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		// Wait before retry
		select {
		case <-ctx.Done():
			outcome.Err = ctx.Err()
			return outcome
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", outcome.Err.Error(),
		"attempts", outcome.Attempts,
	)

	return outcome
}

// calculateDelay computes the backoff before attempt+1. The exponential
// delay is capped at MaxDelay, then jittered by ±10%, and never goes
// negative or above the cap.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		r.mu.Lock()
		f := r.rng.Float64()
		r.mu.Unlock()
		jitter := (f*2 - 1) * 0.1 * delay // ±10%
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	return time.Duration(delay)
}

// RetryWithConfig is a convenience function to execute an operation with
// retry, surfacing only the final error.
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	retrier := NewRetrier(config)
	outcome := retrier.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, operation(ctx)
	})
	if outcome.Success {
		return nil
	}
	if outcome.Attempts >= config.MaxAttempts && config.MaxAttempts > 1 {
		return fmt.Errorf("operation failed after %d attempts: %w", outcome.Attempts, outcome.Err)
	}
	return outcome.Err
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}
