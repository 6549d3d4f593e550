package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonlabs/sentinel/pkg/errors"
	"github.com/halcyonlabs/sentinel/pkg/logging"
)

// probeRetryDelay is the fixed pause between attempts of a single probe
const probeRetryDelay = 500 * time.Millisecond

// Hooks are optional callbacks invoked by the monitor on state changes.
// They run outside the monitor's locks and must not call back into it.
type Hooks struct {
	// OnStatusChange fires whenever a service transitions between statuses
	OnStatusChange func(service string, from, to Status)
	// OnAlert fires when an alert is raised, acknowledged or resolved.
	// The event is one of "raised", "acknowledged" or "resolved".
	OnAlert func(event string, alert Alert)
	// OnProbe fires after every completed probe
	OnProbe func(result ProbeResult)
}

// Monitor schedules health probes for registered services and keeps a
// rolling per-service health record. Each service runs on its own timer
// so deregistering or stopping one never disturbs the others.
type Monitor struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	running  bool
	baseCtx  context.Context
	cancel   context.CancelFunc

	alerts   *alertLog
	handlers []AlertHandler
	hooks    Hooks
	logger   *logging.Logger
}

type serviceEntry struct {
	mu     sync.Mutex
	name   string
	config ServiceConfig
	status ServiceStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a health monitor. Hooks may be zero-valued.
func NewMonitor(logger *logging.Logger, hooks Hooks) *Monitor {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Monitor{
		services: make(map[string]*serviceEntry),
		alerts:   newAlertLog(),
		hooks:    hooks,
		logger:   logger,
	}
}

// AddAlertHandler attaches a delivery channel for raised alerts
func (m *Monitor) AddAlertHandler(h AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// RegisterService adds a service under the given monitoring policy. If the
// monitor is already running and the service is enabled, its probe loop
// starts immediately. Registering an existing name replaces its policy and
// restarts its loop; accumulated statistics are kept.
func (m *Monitor) RegisterService(name string, config ServiceConfig) error {
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	config = config.normalize()

	m.mu.Lock()
	existing, ok := m.services[name]
	var prior ServiceStatus
	if ok {
		prior = m.snapshotLocked(existing)
		m.stopServiceLocked(existing)
	}
	entry := &serviceEntry{
		name:   name,
		config: config,
		status: ServiceStatus{
			Name:        name,
			Status:      StatusUnknown,
			HealthScore: 100,
		},
	}
	if ok {
		entry.status = prior
	}
	m.services[name] = entry
	start := m.running && config.Enabled
	if start {
		m.startServiceLocked(entry)
	}
	m.mu.Unlock()

	m.logger.Info("Service registered for health monitoring",
		"service", name,
		"interval", config.Interval.String(),
		"failure_threshold", config.FailureThreshold,
		"enabled", config.Enabled,
	)
	return nil
}

// DeregisterService stops the service's probe loop and removes its record.
// Alerts already raised for the service remain until resolved.
func (m *Monitor) DeregisterService(name string) error {
	m.mu.Lock()
	entry, ok := m.services[name]
	if !ok {
		m.mu.Unlock()
		return errors.NewServiceNotRegisteredError(name)
	}
	m.stopServiceLocked(entry)
	delete(m.services, name)
	m.mu.Unlock()

	m.logger.Info("Service deregistered from health monitoring", "service", name)
	return nil
}

// Start launches the probe loops of all enabled services. It is a no-op if
// the monitor is already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	for _, entry := range m.services {
		if entry.config.Enabled {
			m.startServiceLocked(entry)
		}
	}
	m.logger.Info("Health monitor started", "services", len(m.services))
}

// Stop cancels every probe loop and waits for them to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	var done []chan struct{}
	for _, entry := range m.services {
		if entry.done != nil {
			done = append(done, entry.done)
			entry.cancel = nil
		}
	}
	m.mu.Unlock()

	for _, ch := range done {
		<-ch
	}
	m.logger.Info("Health monitor stopped")
}

// startServiceLocked spawns the probe loop for an entry. Caller holds m.mu.
func (m *Monitor) startServiceLocked(entry *serviceEntry) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	entry.cancel = cancel
	entry.done = make(chan struct{})
	go m.runService(ctx, entry)
}

// stopServiceLocked cancels an entry's loop without waiting. Caller holds m.mu.
func (m *Monitor) stopServiceLocked(entry *serviceEntry) {
	if entry.cancel != nil {
		entry.cancel()
		entry.cancel = nil
	}
}

// runService is the per-service timer loop: wait out the grace period,
// probe once, then probe on every interval tick until cancelled
func (m *Monitor) runService(ctx context.Context, entry *serviceEntry) {
	defer close(entry.done)

	entry.mu.Lock()
	cfg := entry.config
	entry.mu.Unlock()

	if cfg.GracePeriod > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.GracePeriod):
		}
	}

	m.probe(ctx, entry)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, entry)
		}
	}
}

// CheckService probes one service on demand and folds the result into its
// rolling record, exactly as a scheduled probe would
func (m *Monitor) CheckService(ctx context.Context, name string) (ProbeResult, error) {
	m.mu.RLock()
	entry, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return ProbeResult{}, errors.NewServiceNotRegisteredError(name)
	}
	return m.probe(ctx, entry), nil
}

// CheckAllServices probes every registered service concurrently
func (m *Monitor) CheckAllServices(ctx context.Context) []ProbeResult {
	m.mu.RLock()
	entries := make([]*serviceEntry, 0, len(m.services))
	for _, entry := range m.services {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	results := make([]ProbeResult, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry *serviceEntry) {
			defer wg.Done()
			results[i] = m.probe(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })
	return results
}

// ServiceHealth returns a snapshot of one service's rolling record
func (m *Monitor) ServiceHealth(name string) (ServiceStatus, error) {
	m.mu.RLock()
	entry, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return ServiceStatus{}, errors.NewServiceNotRegisteredError(name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.status, nil
}

// ServiceNames returns the registered service names in sorted order
func (m *Monitor) ServiceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemHealth aggregates every service record into an overall status.
// With no services registered the system reports degraded, since nothing
// is being verified.
func (m *Monitor) SystemHealth() SystemHealth {
	m.mu.RLock()
	entries := make([]*serviceEntry, 0, len(m.services))
	for _, entry := range m.services {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	overview := SystemHealth{
		Status:    SystemDegraded,
		Timestamp: time.Now(),
		Services:  make([]ServiceStatus, 0, len(entries)),
	}
	for _, entry := range entries {
		entry.mu.Lock()
		status := entry.status
		entry.mu.Unlock()
		overview.Services = append(overview.Services, status)
		overview.TotalServices++
		switch status.Status {
		case StatusHealthy:
			overview.HealthyServices++
		case StatusUnhealthy:
			overview.UnhealthyServices++
		default:
			overview.DegradedServices++
		}
	}
	sort.Slice(overview.Services, func(i, j int) bool {
		return overview.Services[i].Name < overview.Services[j].Name
	})

	if overview.TotalServices == 0 {
		return overview
	}
	overview.HealthyPercent = 100.0 * float64(overview.HealthyServices) / float64(overview.TotalServices)
	switch {
	case overview.HealthyServices == overview.TotalServices:
		overview.Status = SystemHealthy
	case overview.HealthyPercent >= 70.0:
		overview.Status = SystemDegraded
	default:
		overview.Status = SystemCritical
	}
	return overview
}

// probe runs the configured checks with retries and records the outcome
func (m *Monitor) probe(ctx context.Context, entry *serviceEntry) ProbeResult {
	entry.mu.Lock()
	cfg := entry.config
	entry.mu.Unlock()

	started := time.Now()
	attempts := 0
	var last CheckResult
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			last = CheckResult{Healthy: false, Error: ctx.Err().Error()}
			break
		}
		attempts++
		last = runAttempt(ctx, cfg.Checks, cfg.Timeout)
		if last.Healthy {
			break
		}
		if attempt < cfg.Retries {
			select {
			case <-ctx.Done():
			case <-time.After(probeRetryDelay):
			}
		}
	}

	result := ProbeResult{
		Service:   entry.name,
		Healthy:   last.Healthy,
		Attempts:  attempts,
		Duration:  time.Since(started),
		Timestamp: time.Now(),
		Details:   last.Details,
		Error:     last.Error,
	}
	m.record(entry, result)
	return result
}

// runAttempt executes all checks once, bounded by the attempt timeout. A
// check that panics or outlives the timeout counts as a failure; a runaway
// check keeps running in its goroutine but no longer holds up the probe.
func runAttempt(ctx context.Context, checks []CheckFunc, timeout time.Duration) CheckResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- CheckResult{Healthy: false, Error: fmt.Sprintf("probe panicked: %v", r)}
			}
		}()
		resultCh <- runChecks(attemptCtx, checks)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-attemptCtx.Done():
		return CheckResult{Healthy: false, Error: fmt.Sprintf("probe timed out after %s", timeout)}
	}
}

// runChecks runs every check in order and merges their details. The attempt
// fails on the first unhealthy result.
func runChecks(ctx context.Context, checks []CheckFunc) CheckResult {
	merged := CheckResult{Healthy: true}
	for _, check := range checks {
		result := check(ctx)
		if len(result.Details) > 0 {
			if merged.Details == nil {
				merged.Details = make(map[string]string, len(result.Details))
			}
			for k, v := range result.Details {
				merged.Details[k] = v
			}
		}
		if !result.Healthy {
			merged.Healthy = false
			merged.Error = result.Error
			if merged.Error == "" {
				merged.Error = "check reported unhealthy"
			}
			return merged
		}
	}
	return merged
}

// record folds a probe result into the service's rolling record, fires
// status-change and alert side effects, and invokes hooks outside the lock
func (m *Monitor) record(entry *serviceEntry, result ProbeResult) {
	entry.mu.Lock()
	status := &entry.status
	from := status.Status

	status.TotalChecks++
	n := time.Duration(status.TotalChecks)
	status.AverageResponseTime += (result.Duration - status.AverageResponseTime) / n
	status.LastCheck = result.Timestamp

	var raised *Alert
	if result.Healthy {
		status.SuccessfulChecks++
		status.ConsecutiveFailures = 0
		status.Status = StatusHealthy
		status.LastError = ""
	} else {
		status.FailedChecks++
		status.ConsecutiveFailures++
		status.LastError = result.Error
		if status.ConsecutiveFailures >= entry.config.FailureThreshold {
			status.Status = StatusUnhealthy
		} else {
			status.Status = StatusDegraded
		}
		if status.ConsecutiveFailures == entry.config.FailureThreshold {
			alert := m.alerts.raise(entry.name, SeverityError, fmt.Sprintf(
				"service %s unhealthy after %d consecutive failed checks: %s",
				entry.name, status.ConsecutiveFailures, result.Error,
			))
			raised = &alert
		}
	}
	status.HealthScore = computeHealthScore(status.ConsecutiveFailures, status.FailedChecks, status.TotalChecks)
	to := status.Status
	entry.mu.Unlock()

	m.logger.LogProbeEvent(context.Background(), entry.name, result.Healthy, result.Duration, logrus.Fields{
		"attempts": result.Attempts,
	})
	if from != to {
		m.logger.Info("Service health status changed",
			"service", entry.name,
			"from", string(from),
			"to", string(to),
		)
		if m.hooks.OnStatusChange != nil {
			m.hooks.OnStatusChange(entry.name, from, to)
		}
	}
	if raised != nil {
		m.dispatchAlert(*raised)
		if m.hooks.OnAlert != nil {
			m.hooks.OnAlert(AlertRaised, *raised)
		}
	}
	if m.hooks.OnProbe != nil {
		m.hooks.OnProbe(result)
	}
}

// snapshotLocked copies an entry's status. Caller holds m.mu.
func (m *Monitor) snapshotLocked(entry *serviceEntry) ServiceStatus {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.status
}
