package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

// EventBridge consumes coordinator events and translates them into
// Prometheus metrics
type EventBridge struct {
	metrics *Metrics
	sub     *resilience.EventSubscription
}

// NewEventBridge creates a bridge reading from the given subscription
func NewEventBridge(metrics *Metrics, sub *resilience.EventSubscription) *EventBridge {
	return &EventBridge{
		metrics: metrics,
		sub:     sub,
	}
}

// Run consumes events until the context is cancelled or the stream closes.
// It owns the subscription and releases it on exit. Run is intended to be
// called on its own goroutine.
func (b *EventBridge) Run(ctx context.Context) {
	defer b.sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.sub.C:
			if !ok {
				return
			}
			b.record(event)
		}
	}
}

// record maps one event onto the metric families it drives
func (b *EventBridge) record(event resilience.Event) {
	b.metrics.RecordEvent(string(event.Type))

	switch event.Type {
	case resilience.EventOperationSucceeded:
		b.metrics.RecordOperation(event.Operation, "success", event.Duration)
	case resilience.EventOperationFailed:
		b.metrics.RecordOperation(event.Operation, "failure", event.Duration)
	case resilience.EventOperationTimedOut:
		b.metrics.RecordOperation(event.Operation, "timeout", event.Duration)
	case resilience.EventOperationRetried:
		b.metrics.RecordRetry(event.Operation)
	case resilience.EventCircuitRejected:
		b.metrics.RecordRejection(event.Operation)
	case resilience.EventCircuitOpened, resilience.EventCircuitHalfOpened, resilience.EventCircuitClosed:
		b.metrics.RecordBreakerTransition(event.Operation, event.FromState, event.ToState)
	case resilience.EventProbeCompleted:
		healthy, _ := event.Metadata["healthy"].(bool)
		b.metrics.RecordProbe(event.Service, healthy, event.Duration)
	case resilience.EventAlertRaised:
		severity, _ := event.Metadata["severity"].(string)
		b.metrics.RecordAlert(event.Service, severity)
	}
}

// MetricsCollector periodically samples state that is not driven by the
// event stream: breaker state gauges, service health scores, dropped event
// counts, and connection pool statistics
type MetricsCollector struct {
	metrics     *Metrics
	coordinator *resilience.Coordinator
	db          *sqlx.DB
	redis       *redis.Client
	interval    time.Duration
	stopCh      chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, coordinator *resilience.Coordinator, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &MetricsCollector{
		metrics:     metrics,
		coordinator: coordinator,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// SetDatabase adds a database pool to the collection cycle. Must be called
// before Start.
func (mc *MetricsCollector) SetDatabase(db *sqlx.DB) {
	mc.db = db
}

// SetRedis adds a Redis client to the collection cycle. Must be called
// before Start.
func (mc *MetricsCollector) SetRedis(client *redis.Client) {
	mc.redis = client
}

// Start begins metrics collection
func (mc *MetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.collectMetrics()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
}

// collectMetrics samples the coordinator and connection pools
func (mc *MetricsCollector) collectMetrics() {
	if mc.coordinator != nil {
		stats := mc.coordinator.Stats()
		mc.metrics.UpdateEventsDropped(stats.EventsDropped)
		for _, breaker := range stats.CircuitBreakers {
			mc.metrics.UpdateBreakerState(breaker.Key, breaker.State)
		}

		monitor := mc.coordinator.Monitor()
		for _, name := range monitor.ServiceNames() {
			if status, err := monitor.ServiceHealth(name); err == nil {
				mc.metrics.UpdateServiceHealth(name, status.HealthScore)
			}
		}
		mc.metrics.UpdateActiveAlerts(len(monitor.ActiveAlerts()))
	}

	if mc.db != nil {
		dbStats := mc.db.Stats()
		mc.metrics.UpdateDatabaseConnections(dbStats.OpenConnections, dbStats.Idle, dbStats.MaxOpenConnections)
	}

	if mc.redis != nil {
		poolStats := mc.redis.PoolStats()
		mc.metrics.UpdateRedisConnections(int(poolStats.TotalConns), int(poolStats.IdleConns), int(poolStats.StaleConns))
	}
}
