package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/health"
	"github.com/halcyonlabs/sentinel/pkg/logging"
)

// Operation is a unit of work protected by the coordinator
type Operation func(ctx context.Context) (interface{}, error)

// Options are per-call overrides for Execute. The zero value applies the
// coordinator defaults.
type Options struct {
	// Timeout bounds each attempt; 0 uses the coordinator default and a
	// negative value disables the attempt timeout
	Timeout time.Duration
	// DisableRetry runs the operation exactly once
	DisableRetry bool
	// DisableBreaker skips circuit breaker gating and reporting
	DisableBreaker bool
	// Retry overrides the coordinator's retry policy for this call
	Retry *RetryConfig
}

// CoordinatorConfig configures a Coordinator
type CoordinatorConfig struct {
	// DefaultTimeout bounds each attempt of every operation; 0 disables it
	DefaultTimeout time.Duration
	// Retry is the default retry policy
	Retry RetryConfig
	// Breaker is the circuit breaker policy shared by all operation keys
	Breaker CircuitBreakerConfig
	// DisableRetry is a global kill switch forcing a single attempt per
	// call; per-call and per-operation options cannot re-enable it
	DisableRetry bool
	// DisableBreaker is a global kill switch skipping breaker gating and
	// reporting for every call
	DisableBreaker bool
	// UnhealthyThreshold is the consecutive request failures before an
	// operation's request-path status turns unhealthy
	UnhealthyThreshold int
	// EventBuffer is the per-subscriber event channel capacity
	EventBuffer int
	// Seed makes retry jitter deterministic when nonzero
	Seed int64
}

// DefaultCoordinatorConfig returns the default coordinator policy
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DefaultTimeout:     10 * time.Second,
		Retry:              DefaultRetryConfig(),
		Breaker:            DefaultCircuitBreakerConfig(),
		UnhealthyThreshold: 3,
		EventBuffer:        256,
	}
}

// Coordinator composes the circuit breaker, retry executor and health
// monitor behind a single Execute entry point. The breaker gates the whole
// retried call: one Execute counts once against the breaker no matter how
// many attempts the retry policy spends.
type Coordinator struct {
	config  CoordinatorConfig
	breaker *CircuitBreaker
	monitor *health.Monitor
	events  *EventBus
	logger  *logging.Logger

	mu         sync.RWMutex
	operations map[string]*operationRecord
	policies   map[string]Options
	startedAt  time.Time

	totalOps      int64
	successOps    int64
	failedOps     int64
	rejectedOps   int64
	timedOutOps   int64
	retriedOps    int64
	retries       int64
	circuitTrips  int64
	circuitResets int64
	probeFailures int64
}

// NewCoordinator creates a coordinator owning its breaker, event bus and
// health monitor
func NewCoordinator(config CoordinatorConfig, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = 3
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}

	c := &Coordinator{
		config:     config,
		events:     NewEventBus(config.EventBuffer),
		logger:     logger,
		operations: make(map[string]*operationRecord),
		policies:   make(map[string]Options),
		startedAt:  time.Now(),
	}

	breakerConfig := config.Breaker
	chained := breakerConfig.OnStateChange
	breakerConfig.OnStateChange = func(key string, from, to CircuitState) {
		c.publishTransition(key, from, to)
		if chained != nil {
			chained(key, from, to)
		}
	}
	c.breaker = NewCircuitBreaker(breakerConfig)

	c.monitor = health.NewMonitor(logger, health.Hooks{
		OnStatusChange: c.publishStatusChange,
		OnAlert:        c.publishAlert,
		OnProbe:        c.publishProbe,
	})

	return c
}

// Monitor exposes the owned health monitor for probe registration and
// alert management
func (c *Coordinator) Monitor() *health.Monitor {
	return c.monitor
}

// Events exposes the coordinator's event stream
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Subscribe attaches a new subscriber to the event stream
func (c *Coordinator) Subscribe() *EventSubscription {
	return c.events.Subscribe()
}

// Start launches the health monitor's scheduled probes
func (c *Coordinator) Start(ctx context.Context) {
	c.monitor.Start(ctx)
}

// Stop halts scheduled probes and closes the event stream
func (c *Coordinator) Stop() {
	c.monitor.Stop()
	c.events.Close()
}

// SetOperationPolicy registers default options for one operation name. The
// registered options apply whenever Execute is called with nil opts; explicit
// opts always win. Breaker thresholds are keyed separately, see
// ConfigureBreaker.
func (c *Coordinator) SetOperationPolicy(operationName string, opts Options) {
	c.mu.Lock()
	c.policies[operationName] = opts
	c.mu.Unlock()
}

// ConfigureBreaker installs per-key trip thresholds on the owned breaker
func (c *Coordinator) ConfigureBreaker(key string, config CircuitBreakerConfig) {
	c.breaker.Configure(key, config)
}

// Execute runs operation under the full resilience policy: circuit breaker
// gate first, then the retry loop with a per-attempt timeout. A rejected
// call never invokes the operation and returns a circuit-open error. The
// final failure is returned only after statistics and events are recorded.
func (c *Coordinator) Execute(ctx context.Context, operationName string, operation Operation, opts *Options) (interface{}, error) {
	options := c.resolveOptions(operationName, opts)
	timeout := options.Timeout
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}

	event := NewEvent(EventOperationAttempted)
	event.Operation = operationName
	c.events.Publish(event)

	useBreaker := !options.DisableBreaker
	if useBreaker && !c.breaker.CanExecute(operationName) {
		err := errors.NewCircuitOpenError(operationName)
		c.recordRejection(operationName)
		return nil, err
	}

	retrier := NewRetrierWithSeed(c.retryPolicy(operationName, options), c.seed())
	outcome := retrier.Execute(ctx, c.boundAttempt(operationName, operation, timeout))

	// The admitted call must report exactly once, both for the trip
	// counters and to release a half-open trial slot
	if useBreaker {
		if outcome.Success {
			c.breaker.RecordSuccess(operationName)
		} else {
			c.breaker.RecordFailure(operationName)
		}
	}

	c.recordOutcome(operationName, outcome)

	if !outcome.Success {
		return nil, outcome.Err
	}
	return outcome.Value, nil
}

// resolveOptions picks the explicit per-call options or falls back to the
// registered per-operation policy, then applies the global kill switches
func (c *Coordinator) resolveOptions(operationName string, opts *Options) Options {
	options := Options{}
	if opts != nil {
		options = *opts
	} else {
		c.mu.RLock()
		if registered, ok := c.policies[operationName]; ok {
			options = registered
		}
		c.mu.RUnlock()
	}
	if c.config.DisableRetry {
		options.DisableRetry = true
	}
	if c.config.DisableBreaker {
		options.DisableBreaker = true
	}
	return options
}

// seed returns the configured deterministic seed or a time-based one
func (c *Coordinator) seed() int64 {
	if c.config.Seed != 0 {
		return c.config.Seed
	}
	return time.Now().UnixNano()
}

// retryPolicy resolves the effective retry config for one call and hooks
// retry events into the coordinator's stream
func (c *Coordinator) retryPolicy(operationName string, options Options) RetryConfig {
	policy := c.config.Retry
	if options.Retry != nil {
		policy = *options.Retry
	}
	if options.DisableRetry {
		policy.MaxAttempts = 1
	}

	chained := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		event := NewEvent(EventOperationRetried)
		event.Operation = operationName
		event.Attempt = attempt
		event.Duration = delay
		if err != nil {
			event.Error = err.Error()
		}
		c.events.Publish(event)

		if chained != nil {
			chained(attempt, err, delay)
		}
	}
	return policy
}

// boundAttempt wraps the operation so every attempt races a timeout timer.
// When the timer fires the attempt fails with a timeout error; the
// operation's goroutine is cancelled through its context but may run on if
// it ignores cancellation.
func (c *Coordinator) boundAttempt(operationName string, operation Operation, timeout time.Duration) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		type attemptResult struct {
			value interface{}
			err   error
		}
		done := make(chan attemptResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- attemptResult{err: fmt.Errorf("operation %s panicked: %v", operationName, r)}
				}
			}()
			value, err := operation(attemptCtx)
			done <- attemptResult{value: value, err: err}
		}()

		select {
		case result := <-done:
			return result.value, result.err
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				// Parent cancellation, not our timer
				return nil, ctx.Err()
			}
			return nil, errors.NewTimeoutError(fmt.Sprintf("operation %s", operationName)).
				WithDetail("timeout", timeout.String())
		}
	}
}

// recordRejection accounts for a call the breaker refused to admit
func (c *Coordinator) recordRejection(operationName string) {
	now := time.Now()
	c.mu.Lock()
	c.totalOps++
	c.rejectedOps++
	rec := c.recordLocked(operationName)
	rec.stats.TotalCalls++
	rec.stats.RejectedCalls++
	rec.stats.LastCall = now
	c.mu.Unlock()

	event := NewEvent(EventCircuitRejected)
	event.Operation = operationName
	c.events.Publish(event)

	c.logger.LogOperationEvent(context.Background(), "operation_rejected", operationName, 0, logrus.Fields{
		"reason": "circuit_open",
	})
}

// recordOutcome folds a finished call into per-operation and global
// statistics, then publishes the terminal event
func (c *Coordinator) recordOutcome(operationName string, outcome *RetryOutcome) {
	timedOut := !outcome.Success && errors.IsTimeout(outcome.Err)

	c.mu.Lock()
	c.totalOps++
	if outcome.Success {
		c.successOps++
	} else {
		c.failedOps++
		if timedOut {
			c.timedOutOps++
		}
	}
	if outcome.Attempts > 1 {
		c.retriedOps++
		c.retries += int64(outcome.Attempts - 1)
	}

	rec := c.recordLocked(operationName)
	stats := &rec.stats
	stats.TotalCalls++
	stats.LastCall = time.Now()
	n := time.Duration(stats.TotalCalls - stats.RejectedCalls)
	if n > 0 {
		stats.AverageLatency += (outcome.Elapsed - stats.AverageLatency) / n
	}
	if outcome.Success {
		stats.SuccessfulCalls++
		stats.ConsecutiveFailures = 0
		stats.LastError = ""
	} else {
		stats.FailedCalls++
		stats.ConsecutiveFailures++
		if timedOut {
			stats.TimedOutCalls++
		}
		if outcome.Err != nil {
			stats.LastError = outcome.Err.Error()
		}
	}
	if outcome.Attempts > 1 {
		stats.RetriedCalls++
		stats.TotalRetries += int64(outcome.Attempts - 1)
	}
	stats.Status = requestPathStatus(stats.ConsecutiveFailures, c.config.UnhealthyThreshold)
	c.mu.Unlock()

	eventType := EventOperationSucceeded
	if !outcome.Success {
		eventType = EventOperationFailed
		if timedOut {
			eventType = EventOperationTimedOut
		}
	}
	event := NewEvent(eventType)
	event.Operation = operationName
	event.Attempt = outcome.Attempts
	event.Duration = outcome.Elapsed
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	c.events.Publish(event)
}

// recordLocked returns the operation record, creating it on first use.
// Caller holds c.mu.
func (c *Coordinator) recordLocked(operationName string) *operationRecord {
	rec, ok := c.operations[operationName]
	if !ok {
		rec = &operationRecord{stats: OperationStats{
			Operation: operationName,
			Status:    "healthy",
		}}
		c.operations[operationName] = rec
	}
	return rec
}

// publishTransition turns breaker state changes into stream events and
// keeps the aggregate trip/reset counters
func (c *Coordinator) publishTransition(key string, from, to CircuitState) {
	var eventType EventType
	switch to {
	case StateOpen:
		eventType = EventCircuitOpened
	case StateHalfOpen:
		eventType = EventCircuitHalfOpened
	default:
		eventType = EventCircuitClosed
	}

	c.mu.Lock()
	switch to {
	case StateOpen:
		c.circuitTrips++
	case StateClosed:
		c.circuitResets++
	}
	c.mu.Unlock()
	event := NewEvent(eventType)
	event.Operation = key
	event.FromState = from.String()
	event.ToState = to.String()
	c.events.Publish(event)
}

// publishProbe bridges probe results into the stream
func (c *Coordinator) publishProbe(result health.ProbeResult) {
	if !result.Healthy {
		c.mu.Lock()
		c.probeFailures++
		c.mu.Unlock()
	}

	event := NewEvent(EventProbeCompleted)
	event.Service = result.Service
	event.Error = result.Error
	event.Attempt = result.Attempts
	event.Duration = result.Duration
	event.Metadata = map[string]interface{}{
		"healthy": result.Healthy,
	}
	c.events.Publish(event)
}

// publishStatusChange bridges monitor status transitions into the stream
func (c *Coordinator) publishStatusChange(service string, from, to health.Status) {
	event := NewEvent(EventStatusChanged)
	event.Service = service
	event.FromState = string(from)
	event.ToState = string(to)
	c.events.Publish(event)
}

// publishAlert bridges monitor alert lifecycle changes into the stream
func (c *Coordinator) publishAlert(lifecycle string, alert health.Alert) {
	var eventType EventType
	switch lifecycle {
	case health.AlertAcknowledged:
		eventType = EventAlertAcknowledged
	case health.AlertResolved:
		eventType = EventAlertResolved
	default:
		eventType = EventAlertRaised
	}
	event := NewEvent(eventType)
	event.Service = alert.Service
	event.Metadata = map[string]interface{}{
		"alert_id": alert.ID,
		"severity": string(alert.Severity),
		"message":  alert.Message,
	}
	c.events.Publish(event)
}

// RegisterService adds a service to the owned health monitor
func (c *Coordinator) RegisterService(name string, config health.ServiceConfig) error {
	return c.monitor.RegisterService(name, config)
}

// ServiceView merges the monitor's probe-based view of a service with the
// request-path record of the operation sharing its name
type ServiceView struct {
	Name        string                `json:"name"`
	Status      health.Status         `json:"status"`
	Monitor     *health.ServiceStatus `json:"monitor,omitempty"`
	RequestPath *OperationStats       `json:"request_path,omitempty"`
}

// ServiceHealth returns the merged view for name. The merged status is the
// worse of the two sides; a name unknown to both is an error.
func (c *Coordinator) ServiceHealth(name string) (ServiceView, error) {
	view := ServiceView{Name: name, Status: health.StatusUnknown}

	if status, err := c.monitor.ServiceHealth(name); err == nil {
		view.Monitor = &status
	}

	c.mu.RLock()
	if rec, ok := c.operations[name]; ok {
		stats := rec.stats
		view.RequestPath = &stats
	}
	c.mu.RUnlock()

	if view.Monitor == nil && view.RequestPath == nil {
		return ServiceView{}, errors.NewServiceNotRegisteredError(name)
	}

	rank := 0
	if view.Monitor != nil {
		rank = statusRank(string(view.Monitor.Status))
		view.Status = view.Monitor.Status
	}
	if view.RequestPath != nil && view.RequestPath.TotalCalls > 0 {
		if r := statusRank(view.RequestPath.Status); r > rank {
			rank = r
			view.Status = health.Status(view.RequestPath.Status)
		}
	}
	if rank == 0 {
		view.Status = health.StatusUnknown
	}
	return view, nil
}

// Services returns the merged view for every name known to either side,
// sorted by name
func (c *Coordinator) Services() []ServiceView {
	names := make(map[string]struct{})
	for _, name := range c.monitor.ServiceNames() {
		names[name] = struct{}{}
	}
	c.mu.RLock()
	for name := range c.operations {
		names[name] = struct{}{}
	}
	c.mu.RUnlock()

	views := make([]ServiceView, 0, len(names))
	for name := range names {
		if view, err := c.ServiceHealth(name); err == nil {
			views = append(views, view)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// SystemOverview is the coordinator-level system summary
type SystemOverview struct {
	Status      ResilienceStatus    `json:"status"`
	Monitor     health.SystemHealth `json:"monitor"`
	Operations  []OperationStats    `json:"operations"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// SystemHealth merges the monitor's aggregate with the request-path
// aggregate, reporting the worse of the two
func (c *Coordinator) SystemHealth() SystemOverview {
	overview := SystemOverview{
		Monitor:     c.monitor.SystemHealth(),
		Operations:  c.operationStats(),
		GeneratedAt: time.Now(),
	}

	monitorStatus := ResilienceStatus(overview.Monitor.Status)
	requestStatus := aggregateStatus(overview.Operations)

	overview.Status = monitorStatus
	if worse(requestStatus, monitorStatus) {
		overview.Status = requestStatus
	}
	return overview
}

// worse reports whether a outranks b in severity. Unknown never outranks.
func worse(a, b ResilienceStatus) bool {
	rank := func(s ResilienceStatus) int {
		switch s {
		case ResilienceHealthy:
			return 1
		case ResilienceDegraded:
			return 2
		case ResilienceCritical:
			return 3
		default:
			return 0
		}
	}
	return rank(a) > rank(b)
}

// operationStats snapshots every request-path record, sorted by name
func (c *Coordinator) operationStats() []OperationStats {
	c.mu.RLock()
	out := make([]OperationStats, 0, len(c.operations))
	for _, rec := range c.operations {
		out = append(out, rec.stats)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// BreakerState returns the circuit state for one operation key
func (c *Coordinator) BreakerState(key string) CircuitState {
	return c.breaker.State(key)
}

// BreakerStats returns the breaker record snapshot for one operation key
func (c *Coordinator) BreakerStats(key string) CircuitBreakerStats {
	return c.breaker.Stats(key)
}

// ResetBreaker forces the breaker for key back to closed and announces it
// on the event stream
func (c *Coordinator) ResetBreaker(key string) {
	c.breaker.Reset(key)

	event := NewEvent(EventCircuitReset)
	event.Operation = key
	c.events.Publish(event)
}

// Stats snapshots everything the coordinator tracks
func (c *Coordinator) Stats() ResilienceStats {
	operations := c.operationStats()
	services := c.Services()

	c.mu.RLock()
	stats := ResilienceStats{
		StartedAt:            c.startedAt,
		Uptime:               time.Since(c.startedAt),
		TotalOperations:      c.totalOps,
		SuccessfulOperations: c.successOps,
		FailedOperations:     c.failedOps,
		RejectedOperations:   c.rejectedOps,
		TimedOutOperations:   c.timedOutOps,
		RetriedOperations:    c.retriedOps,
		TotalRetries:         c.retries,
		CircuitTrips:         c.circuitTrips,
		CircuitResets:        c.circuitResets,
		HealthCheckFailures:  c.probeFailures,
	}
	c.mu.RUnlock()

	for _, view := range services {
		switch view.Status {
		case health.StatusHealthy:
			stats.HealthyServices++
		case health.StatusDegraded:
			stats.DegradedServices++
		case health.StatusUnhealthy:
			stats.UnhealthyServices++
		}
	}

	stats.Status = aggregateStatus(operations)
	stats.Operations = operations
	stats.CircuitBreakers = c.breaker.AllStats()
	stats.EventsDropped = c.events.Dropped()
	stats.GeneratedAt = time.Now()
	return stats
}
