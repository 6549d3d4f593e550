// Package resilience provides circuit breaking, retry with exponential
// backoff, and a coordinator that composes them in front of unreliable
// operations for the Sentinel system.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker keeps one record per operation key and trips a key
// open once enough traffic has been seen and its failures cross either an
// absolute count or an error-ratio threshold. After a cooldown a single
// trial request probes the dependency before the key closes again.
//
//	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
//
//	result, err := cb.Execute(ctx, "external-service", func(ctx context.Context) (interface{}, error) {
//		return externalService.Call(ctx, data)
//	})
//
// # Retry with Exponential Backoff
//
// The retrier re-runs failed operations with exponentially growing,
// jittered delays and reports the full attempt history instead of
// swallowing it.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	outcome := retrier.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return riskyOperation(ctx)
//	})
//
// # Coordinated Execution
//
// The coordinator is the front door: the breaker gates the whole call,
// each attempt races a timeout, the retry policy drives re-attempts, and
// every lifecycle step is published on a typed event stream.
//
//	coord := resilience.NewCoordinator(resilience.DefaultCoordinatorConfig(), logger)
//	result, err := coord.Execute(ctx, "external-service", func(ctx context.Context) (interface{}, error) {
//		return externalService.Call(ctx, data)
//	}, nil)
//
// Defaults can be tuned per operation: SetOperationPolicy registers options
// applied when a call passes nil, and ConfigureBreaker overrides breaker
// thresholds for a single key. Explicit per-call options always win.
//
// # Observability
//
// Subscribers receive typed events over bounded channels; a slow consumer
// drops events instead of stalling the request path.
//
//	sub := coord.Subscribe()
//	defer sub.Unsubscribe()
//	for event := range sub.C {
//		handle(event)
//	}
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
