package resilience

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func defaultTestParameters() *gopter.TestParameters {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	return params
}

func TestProperty_BackoffDelayBounds(t *testing.T) {
	params := defaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("delay_never_negative_never_above_cap_within_jitter", prop.ForAll(
		func(baseMs int, multiplier float64, capMs int, attempt int, seed int64) bool {
			base := time.Duration(baseMs) * time.Millisecond
			maxDelay := time.Duration(capMs) * time.Millisecond
			if maxDelay < base {
				maxDelay = base
			}
			retrier := NewRetrierWithSeed(RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         base,
				MaxDelay:          maxDelay,
				BackoffMultiplier: multiplier,
				Jitter:            true,
			}, seed)

			delay := retrier.calculateDelay(attempt)
			if delay < 0 || delay > maxDelay {
				return false
			}

			expected := float64(base) * math.Pow(multiplier, float64(attempt-1))
			if expected > float64(maxDelay) {
				expected = float64(maxDelay)
			}
			return float64(delay) >= 0.9*expected-1 && float64(delay) <= 1.1*expected+1
		},
		gen.IntRange(1, 1000),
		gen.Float64Range(1.0, 5.0),
		gen.IntRange(1, 60000),
		gen.IntRange(1, 15),
		gen.Int64Range(1, math.MaxInt64/2),
	))

	props.TestingRun(t)
}

func TestProperty_BreakerTripRule(t *testing.T) {
	params := defaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("breaker_opens_exactly_when_volume_and_thresholds_met", prop.ForAll(
		func(outcomes []bool, volume, failureThreshold int, errorThreshold float64) bool {
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				FailureThreshold:    failureThreshold,
				SuccessThreshold:    2,
				VolumeThreshold:     volume,
				ErrorThreshold:      errorThreshold,
				ResetTimeout:        time.Hour,
				HalfOpenMaxRequests: 1,
			})

			requests, failures := 0, 0
			expectOpen := false
			for _, success := range outcomes {
				if expectOpen {
					break
				}
				if !cb.CanExecute("svc") {
					// A closed breaker must admit every request
					return false
				}
				requests++
				if success {
					cb.RecordSuccess("svc")
					continue
				}
				failures++
				cb.RecordFailure("svc")
				if requests >= volume &&
					(failures >= failureThreshold ||
						float64(failures)/float64(requests) >= errorThreshold) {
					expectOpen = true
				}
			}

			return (cb.State("svc") == StateOpen) == expectOpen
		},
		gen.SliceOf(gen.Bool()),
		gen.IntRange(1, 20),
		gen.IntRange(1, 10),
		gen.Float64Range(0.1, 1.0),
	))

	props.TestingRun(t)
}

func TestProperty_RetryAttemptAccounting(t *testing.T) {
	params := defaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("attempts_history_and_success_follow_the_failure_count", prop.ForAll(
		func(failuresBeforeSuccess, maxAttempts int) bool {
			retrier := NewRetrier(RetryConfig{
				MaxAttempts:       maxAttempts,
				BaseDelay:         time.Microsecond,
				MaxDelay:          10 * time.Microsecond,
				BackoffMultiplier: 2.0,
				Jitter:            false,
				RetryableErrors:   func(error) bool { return true },
			})

			calls := 0
			outcome := retrier.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
				calls++
				if calls <= failuresBeforeSuccess {
					return nil, errors.New("transient")
				}
				return calls, nil
			})

			expectedAttempts := failuresBeforeSuccess + 1
			if expectedAttempts > maxAttempts {
				expectedAttempts = maxAttempts
			}
			if outcome.Attempts != expectedAttempts || calls != expectedAttempts {
				return false
			}
			if outcome.Success != (failuresBeforeSuccess < maxAttempts) {
				return false
			}
			if len(outcome.History) != expectedAttempts {
				return false
			}
			for i, record := range outcome.History {
				if record.Number != i+1 {
					return false
				}
				if record.Success != (i == len(outcome.History)-1 && outcome.Success) {
					return false
				}
			}
			return outcome.History[len(outcome.History)-1].NextDelay == 0
		},
		gen.IntRange(0, 6),
		gen.IntRange(1, 8),
	))

	props.TestingRun(t)
}
