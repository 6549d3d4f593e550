package resilience

import (
	"time"
)

// ResilienceStatus is the coordinator-level view of how the protected
// system is doing
type ResilienceStatus string

const (
	ResilienceHealthy  ResilienceStatus = "healthy"
	ResilienceDegraded ResilienceStatus = "degraded"
	ResilienceCritical ResilienceStatus = "critical"
	ResilienceUnknown  ResilienceStatus = "unknown"
)

// OperationStats is the request-path health record of one protected
// operation. Unlike monitor probes, these counters reflect real traffic
// flowing through Execute.
type OperationStats struct {
	Operation           string        `json:"operation"`
	Status              string        `json:"status"`
	TotalCalls          int64         `json:"total_calls"`
	SuccessfulCalls     int64         `json:"successful_calls"`
	FailedCalls         int64         `json:"failed_calls"`
	RejectedCalls       int64         `json:"rejected_calls"`
	TimedOutCalls       int64         `json:"timed_out_calls"`
	RetriedCalls        int64         `json:"retried_calls"`
	TotalRetries        int64         `json:"total_retries"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AverageLatency      time.Duration `json:"average_latency"`
	LastCall            time.Time     `json:"last_call"`
	LastError           string        `json:"last_error,omitempty"`
}

// ResilienceStats is a point-in-time snapshot of everything the
// coordinator tracks. It serializes cleanly to JSON for the ops API.
type ResilienceStats struct {
	Status               ResilienceStatus      `json:"status"`
	StartedAt            time.Time             `json:"started_at"`
	Uptime               time.Duration         `json:"uptime"`
	TotalOperations      int64                 `json:"total_operations"`
	SuccessfulOperations int64                 `json:"successful_operations"`
	FailedOperations     int64                 `json:"failed_operations"`
	RejectedOperations   int64                 `json:"rejected_operations"`
	TimedOutOperations   int64                 `json:"timed_out_operations"`
	RetriedOperations    int64                 `json:"retried_operations"`
	TotalRetries         int64                 `json:"total_retries"`
	CircuitTrips         int64                 `json:"circuit_trips"`
	CircuitResets        int64                 `json:"circuit_resets"`
	HealthCheckFailures  int64                 `json:"health_check_failures"`
	HealthyServices      int                   `json:"healthy_services"`
	DegradedServices     int                   `json:"degraded_services"`
	UnhealthyServices    int                   `json:"unhealthy_services"`
	EventsDropped        uint64                `json:"events_dropped"`
	Operations           []OperationStats      `json:"operations"`
	CircuitBreakers      []CircuitBreakerStats `json:"circuit_breakers"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

// operationRecord is the mutable request-path record behind OperationStats
type operationRecord struct {
	stats OperationStats
}

// statusRank orders operation statuses from best to worst
func statusRank(status string) int {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 2
	case "unhealthy":
		return 3
	default:
		return 0
	}
}

// requestPathStatus classifies an operation from its consecutive failures
func requestPathStatus(consecutiveFailures, unhealthyThreshold int) string {
	switch {
	case consecutiveFailures >= unhealthyThreshold:
		return "unhealthy"
	case consecutiveFailures > 0:
		return "degraded"
	default:
		return "healthy"
	}
}

// aggregateStatus folds per-operation statuses into one coordinator status.
// With no traffic yet there is nothing to judge.
func aggregateStatus(operations []OperationStats) ResilienceStatus {
	if len(operations) == 0 {
		return ResilienceUnknown
	}
	healthy := 0
	for _, op := range operations {
		if op.Status == "healthy" {
			healthy++
		}
	}
	percent := 100.0 * float64(healthy) / float64(len(operations))
	switch {
	case healthy == len(operations):
		return ResilienceHealthy
	case percent >= 70.0:
		return ResilienceDegraded
	default:
		return ResilienceCritical
	}
}
