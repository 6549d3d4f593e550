package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/health"
)

func testCoordinator(mutate func(*CoordinatorConfig)) *Coordinator {
	config := DefaultCoordinatorConfig()
	config.Retry.BaseDelay = 2 * time.Millisecond
	config.Retry.MaxDelay = 10 * time.Millisecond
	config.Breaker = CircuitBreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		VolumeThreshold:     2,
		ErrorThreshold:      0.5,
		ResetTimeout:        50 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
	config.Seed = 99
	if mutate != nil {
		mutate(&config)
	}
	return NewCoordinator(config, nil)
}

// drainEvents empties a subscription buffer; every publish in Execute is
// synchronous, so after a call returns its events are already buffered
func drainEvents(sub *EventSubscription) []Event {
	var out []Event
	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, event)
		default:
			return out
		}
	}
}

func countEvents(events []Event, eventType EventType) int {
	n := 0
	for _, event := range events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func TestCoordinator_ExecuteSuccess(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	sub := c.Subscribe()

	value, err := c.Execute(context.Background(), "fetch", func(ctx context.Context) (interface{}, error) {
		return "payload", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "payload", value)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalOperations)
	assert.Equal(t, int64(1), stats.SuccessfulOperations)
	assert.Equal(t, int64(0), stats.FailedOperations)

	events := drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventOperationAttempted))
	assert.Equal(t, 1, countEvents(events, EventOperationSucceeded))
}

func TestCoordinator_ExecuteRetriesUntilSuccess(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	sub := c.Subscribe()

	var calls atomic.Int32
	value, err := c.Execute(context.Background(), "flaky", func(ctx context.Context) (interface{}, error) {
		if calls.Add(1) < 3 {
			return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
		}
		return "recovered", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int32(3), calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalOperations)
	assert.Equal(t, int64(1), stats.SuccessfulOperations)
	assert.Equal(t, int64(1), stats.RetriedOperations)
	assert.Equal(t, int64(2), stats.TotalRetries)

	events := drainEvents(sub)
	assert.Equal(t, 2, countEvents(events, EventOperationRetried))
	assert.Equal(t, 1, countEvents(events, EventOperationSucceeded))
}

func TestCoordinator_ExecuteFailureIsReRaised(t *testing.T) {
	c := testCoordinator(func(config *CoordinatorConfig) {
		config.Retry.MaxAttempts = 2
	})
	defer c.Stop()

	boom := appErrors.NewExternalError("upstream", "connection reset by peer")
	_, err := c.Execute(context.Background(), "doomed", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	}, nil)

	require.Error(t, err)
	assert.Equal(t, boom, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.FailedOperations)
	require.Len(t, stats.Operations, 1)
	assert.Equal(t, "doomed", stats.Operations[0].Operation)
	assert.Equal(t, int64(1), stats.Operations[0].FailedCalls)
	assert.Contains(t, stats.Operations[0].LastError, "connection reset")
}

func TestCoordinator_NonRetryableFailsOnce(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	var calls atomic.Int32
	_, err := c.Execute(context.Background(), "strict", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewValidationError("bad input")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_BreakerRejectsWithoutInvoking(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	opts := &Options{DisableRetry: true}

	fail := func(ctx context.Context) (interface{}, error) {
		return nil, appErrors.NewExternalError("upstream", "connection refused")
	}
	for i := 0; i < 2; i++ {
		_, err := c.Execute(context.Background(), "gated", fail, opts)
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, c.BreakerState("gated"))

	sub := c.Subscribe()
	var invocations atomic.Int32
	_, err := c.Execute(context.Background(), "gated", func(ctx context.Context) (interface{}, error) {
		invocations.Add(1)
		return "never", nil
	}, opts)

	require.Error(t, err)
	assert.True(t, appErrors.IsCircuitOpen(err))
	assert.Equal(t, int32(0), invocations.Load(), "an open breaker fails fast without calling the operation")

	events := drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventCircuitRejected))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.RejectedOperations)
}

func TestCoordinator_BreakerRecoversThroughHalfOpen(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	sub := c.Subscribe()
	opts := &Options{DisableRetry: true}

	fail := func(ctx context.Context) (interface{}, error) {
		return nil, appErrors.NewExternalError("upstream", "connection refused")
	}
	succeed := func(ctx context.Context) (interface{}, error) { return "ok", nil }

	for i := 0; i < 2; i++ {
		_, _ = c.Execute(context.Background(), "svc", fail, opts)
	}
	require.Equal(t, StateOpen, c.BreakerState("svc"))

	time.Sleep(60 * time.Millisecond)

	// Two successful trials close the breaker again
	for i := 0; i < 2; i++ {
		_, err := c.Execute(context.Background(), "svc", succeed, opts)
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, c.BreakerState("svc"))

	events := drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventCircuitOpened))
	assert.Equal(t, 1, countEvents(events, EventCircuitHalfOpened))
	assert.Equal(t, 1, countEvents(events, EventCircuitClosed))
}

func TestCoordinator_DisableBreakerBypassesGate(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	opts := &Options{DisableRetry: true}

	fail := func(ctx context.Context) (interface{}, error) {
		return nil, appErrors.NewExternalError("upstream", "connection refused")
	}
	for i := 0; i < 2; i++ {
		_, _ = c.Execute(context.Background(), "svc", fail, opts)
	}
	require.Equal(t, StateOpen, c.BreakerState("svc"))

	var invocations atomic.Int32
	value, err := c.Execute(context.Background(), "svc", func(ctx context.Context) (interface{}, error) {
		invocations.Add(1)
		return "through", nil
	}, &Options{DisableRetry: true, DisableBreaker: true})

	require.NoError(t, err)
	assert.Equal(t, "through", value)
	assert.Equal(t, int32(1), invocations.Load())
	assert.Equal(t, StateOpen, c.BreakerState("svc"), "a bypassed call does not touch the breaker")
}

func TestCoordinator_TimeoutRace(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	sub := c.Subscribe()

	started := time.Now()
	_, err := c.Execute(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return nil, ctx.Err()
	}, &Options{Timeout: 30 * time.Millisecond, DisableRetry: true})

	require.Error(t, err)
	assert.True(t, appErrors.IsTimeout(err))
	assert.Less(t, time.Since(started), time.Second, "the timer wins the race")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TimedOutOperations)
	require.Len(t, stats.Operations, 1)
	assert.Equal(t, int64(1), stats.Operations[0].TimedOutCalls)

	events := drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventOperationTimedOut))
	assert.Equal(t, 0, countEvents(events, EventOperationFailed))
}

func TestCoordinator_RunawayOperationDoesNotBlock(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	// The operation ignores cancellation entirely; Execute must still
	// return once the timer fires
	release := make(chan struct{})
	defer close(release)
	started := time.Now()
	_, err := c.Execute(context.Background(), "stuck", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	}, &Options{Timeout: 20 * time.Millisecond, DisableRetry: true})

	require.Error(t, err)
	assert.True(t, appErrors.IsTimeout(err))
	assert.Less(t, time.Since(started), time.Second)
}

func TestCoordinator_PerCallRetryOverride(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	override := DefaultRetryConfig()
	override.MaxAttempts = 5
	override.BaseDelay = time.Millisecond

	var calls atomic.Int32
	_, err := c.Execute(context.Background(), "custom", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
	}, &Options{Retry: &override, DisableBreaker: true})

	require.Error(t, err)
	assert.Equal(t, int32(5), calls.Load())
}

func TestCoordinator_RegisteredPolicyAppliesOnNilOpts(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	c.SetOperationPolicy("strict", Options{DisableRetry: true, DisableBreaker: true})

	var calls atomic.Int32
	_, err := c.Execute(context.Background(), "strict", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(0), c.Stats().RejectedOperations)
}

func TestCoordinator_ExplicitOptsWinOverRegisteredPolicy(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	c.SetOperationPolicy("strict", Options{DisableRetry: true})

	override := DefaultRetryConfig()
	override.MaxAttempts = 3
	override.BaseDelay = time.Millisecond

	var calls atomic.Int32
	_, err := c.Execute(context.Background(), "strict", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
	}, &Options{Retry: &override, DisableBreaker: true})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCoordinator_GlobalKillSwitches(t *testing.T) {
	c := testCoordinator(func(config *CoordinatorConfig) {
		config.DisableRetry = true
		config.DisableBreaker = true
	})
	defer c.Stop()

	var calls atomic.Int32
	fail := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
	}

	// Enough failures to trip the test breaker, were it not disabled
	for i := 0; i < 4; i++ {
		_, err := c.Execute(context.Background(), "raw", fail, nil)
		require.Error(t, err)
	}

	assert.Equal(t, int32(4), calls.Load(), "one attempt per call with retry disabled")
	assert.Equal(t, StateClosed, c.BreakerState("raw"))
	assert.Equal(t, int64(0), c.Stats().RejectedOperations)
}

func TestCoordinator_ConfigureBreakerTightensOneKey(t *testing.T) {
	c := testCoordinator(func(config *CoordinatorConfig) {
		config.Breaker.FailureThreshold = 5
		config.Breaker.VolumeThreshold = 5
	})
	defer c.Stop()

	c.ConfigureBreaker("fragile", CircuitBreakerConfig{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		VolumeThreshold:     1,
		ErrorThreshold:      0.5,
		ResetTimeout:        time.Minute,
		HalfOpenMaxRequests: 1,
	})

	boom := func(ctx context.Context) (interface{}, error) {
		return nil, appErrors.NewValidationError("bad input")
	}
	_, err := c.Execute(context.Background(), "fragile", boom, nil)
	require.Error(t, err)
	_, err = c.Execute(context.Background(), "sturdy", boom, nil)
	require.Error(t, err)

	// One failure opens the tightened key; the default key needs five
	assert.Equal(t, StateOpen, c.BreakerState("fragile"))
	assert.Equal(t, StateClosed, c.BreakerState("sturdy"))

	_, err = c.Execute(context.Background(), "fragile", boom, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsCircuitOpen(err))

	_, err = c.Execute(context.Background(), "sturdy", boom, nil)
	require.Error(t, err)
	assert.False(t, appErrors.IsCircuitOpen(err))
}

func TestCoordinator_ParentCancellationStopsRetries(t *testing.T) {
	c := testCoordinator(func(config *CoordinatorConfig) {
		config.Retry.MaxAttempts = 10
		config.Retry.BaseDelay = 50 * time.Millisecond
	})
	defer c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Execute(ctx, "cancelled", func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, appErrors.NewExternalError("upstream", "connection reset by peer")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_ServiceHealthMergesViews(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	// Monitor side: a probed service that is healthy
	cfg := health.DefaultServiceConfig()
	cfg.Enabled = false
	cfg.Checks = []health.CheckFunc{func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: true}
	}}
	require.NoError(t, c.RegisterService("orders", cfg))
	_, err := c.Monitor().CheckService(context.Background(), "orders")
	require.NoError(t, err)

	view, err := c.ServiceHealth("orders")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, view.Status)
	require.NotNil(t, view.Monitor)
	assert.Nil(t, view.RequestPath)

	// Request side: traffic through Execute fails repeatedly
	opts := &Options{DisableRetry: true, DisableBreaker: true}
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), "orders", func(ctx context.Context) (interface{}, error) {
			return nil, appErrors.NewExternalError("orders", "connection refused")
		}, opts)
	}

	view, err = c.ServiceHealth("orders")
	require.NoError(t, err)
	require.NotNil(t, view.RequestPath)
	assert.Equal(t, "unhealthy", view.RequestPath.Status)
	assert.Equal(t, health.StatusUnhealthy, view.Status, "the worse of the two views wins")

	_, err = c.ServiceHealth("unknown")
	assert.Error(t, err)
}

func TestCoordinator_SystemHealthMergesRequestPath(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()

	// No services and no traffic: only the monitor's degraded default
	overview := c.SystemHealth()
	assert.Equal(t, ResilienceDegraded, overview.Status)

	// Healthy traffic alone cannot beat the monitor's empty-set degraded
	_, err := c.Execute(context.Background(), "ping", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)
	overview = c.SystemHealth()
	assert.Equal(t, ResilienceDegraded, overview.Status)

	// Failing traffic escalates the merged status to critical
	opts := &Options{DisableRetry: true, DisableBreaker: true}
	for i := 0; i < 3; i++ {
		_, _ = c.Execute(context.Background(), "ping", func(ctx context.Context) (interface{}, error) {
			return nil, appErrors.NewExternalError("ping", "connection refused")
		}, opts)
	}
	overview = c.SystemHealth()
	assert.Equal(t, ResilienceCritical, overview.Status)
}

func TestCoordinator_AlertEventsBridged(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	sub := c.Subscribe()

	cfg := health.DefaultServiceConfig()
	cfg.Enabled = false
	cfg.FailureThreshold = 1
	cfg.Checks = []health.CheckFunc{func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: false, Error: "down"}
	}}
	require.NoError(t, c.RegisterService("fragile", cfg))

	_, err := c.Monitor().CheckService(context.Background(), "fragile")
	require.NoError(t, err)

	events := drainEvents(sub)
	require.Equal(t, 1, countEvents(events, EventAlertRaised))
	assert.Equal(t, 1, countEvents(events, EventStatusChanged))

	alerts := c.Monitor().ActiveAlerts()
	require.Len(t, alerts, 1)

	_, err = c.Monitor().AcknowledgeAlert(alerts[0].ID)
	require.NoError(t, err)
	_, err = c.Monitor().ResolveAlert(alerts[0].ID)
	require.NoError(t, err)

	events = drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventAlertAcknowledged))
	assert.Equal(t, 1, countEvents(events, EventAlertResolved))
}

func TestCoordinator_StatsAggregateCounters(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	opts := &Options{DisableRetry: true}

	// Trip the breaker once, then recover it manually
	for i := 0; i < 2; i++ {
		_, _ = c.Execute(context.Background(), "svc", func(ctx context.Context) (interface{}, error) {
			return nil, appErrors.NewExternalError("svc", "connection refused")
		}, opts)
	}
	require.Equal(t, StateOpen, c.BreakerState("svc"))
	c.ResetBreaker("svc")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.CircuitTrips)
	assert.Equal(t, int64(1), stats.CircuitResets)

	// Probe outcomes feed the health-check failure counter and the
	// per-status service tallies
	up := health.DefaultServiceConfig()
	up.Enabled = false
	up.Checks = []health.CheckFunc{func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: true}
	}}
	require.NoError(t, c.RegisterService("steady", up))

	down := health.DefaultServiceConfig()
	down.Enabled = false
	down.Retries = 0
	down.Checks = []health.CheckFunc{func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: false, Error: "down"}
	}}
	require.NoError(t, c.RegisterService("shaky", down))

	_, err := c.Monitor().CheckService(context.Background(), "steady")
	require.NoError(t, err)
	_, err = c.Monitor().CheckService(context.Background(), "shaky")
	require.NoError(t, err)

	stats = c.Stats()
	assert.Equal(t, int64(1), stats.HealthCheckFailures)
	// "svc" counts too: its failed request-path traffic left it degraded
	assert.Equal(t, 1, stats.HealthyServices)
	assert.Equal(t, 2, stats.DegradedServices)
	assert.Equal(t, 0, stats.UnhealthyServices)
}

func TestCoordinator_ResetBreaker(t *testing.T) {
	c := testCoordinator(nil)
	defer c.Stop()
	opts := &Options{DisableRetry: true}

	for i := 0; i < 2; i++ {
		_, _ = c.Execute(context.Background(), "svc", func(ctx context.Context) (interface{}, error) {
			return nil, appErrors.NewExternalError("svc", "connection refused")
		}, opts)
	}
	require.Equal(t, StateOpen, c.BreakerState("svc"))

	sub := c.Subscribe()
	c.ResetBreaker("svc")
	assert.Equal(t, StateClosed, c.BreakerState("svc"))

	events := drainEvents(sub)
	assert.Equal(t, 1, countEvents(events, EventCircuitReset))
}
