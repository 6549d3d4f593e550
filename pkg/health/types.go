package health

import (
	"context"
	"time"
)

// Status represents the health status of a monitored service
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// SystemStatus represents the aggregated status across all services
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemCritical SystemStatus = "critical"
	SystemUnknown  SystemStatus = "unknown"
)

// CheckResult is what a probe function reports about a dependency
type CheckResult struct {
	Healthy bool              `json:"healthy"`
	Details map[string]string `json:"details,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// CheckFunc is a custom probe supplied by a collaborator. It must respect
// ctx cancellation where it can; the monitor bounds each attempt with the
// configured timeout regardless.
type CheckFunc func(ctx context.Context) CheckResult

// ServiceConfig is the per-service monitoring policy
type ServiceConfig struct {
	// Enabled controls whether the scheduled probe loop runs for this service
	Enabled bool `json:"enabled"`
	// Interval is the time between scheduled probes
	Interval time.Duration `json:"interval"`
	// Timeout bounds each probe attempt
	Timeout time.Duration `json:"timeout"`
	// Retries is the number of extra attempts after a failed one, with a
	// fixed delay in between
	Retries int `json:"retries"`
	// FailureThreshold is the consecutive failures before the service is
	// declared unhealthy and an alert is raised
	FailureThreshold int `json:"failure_threshold"`
	// GracePeriod delays the first scheduled probe after registration
	GracePeriod time.Duration `json:"grace_period"`
	// Checks are the probe functions; all must pass for a probe to succeed.
	// A service with no checks probes vacuously healthy.
	Checks []CheckFunc `json:"-"`
}

// DefaultServiceConfig returns the default monitoring policy
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:          true,
		Interval:         30 * time.Second,
		Timeout:          5 * time.Second,
		Retries:          1,
		FailureThreshold: 3,
		GracePeriod:      10 * time.Second,
	}
}

// normalize fills zero numeric fields with defaults. Enabled is taken as
// given; a zero-value config is a registered but unscheduled service.
func (c ServiceConfig) normalize() ServiceConfig {
	defaults := DefaultServiceConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = 0
	}
	return c
}

// ServiceStatus is the rolling health record of one service
type ServiceStatus struct {
	Name                string        `json:"name"`
	Status              Status        `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalChecks         int           `json:"total_checks"`
	SuccessfulChecks    int           `json:"successful_checks"`
	FailedChecks        int           `json:"failed_checks"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	HealthScore         float64       `json:"health_score"`
	LastCheck           time.Time     `json:"last_check"`
	LastError           string        `json:"last_error,omitempty"`
}

// ProbeResult is the outcome of one full probe of a service, including any
// retry attempts
type ProbeResult struct {
	Service   string            `json:"service"`
	Healthy   bool              `json:"healthy"`
	Attempts  int               `json:"attempts"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SystemHealth is the aggregated overview across all registered services
type SystemHealth struct {
	Status            SystemStatus    `json:"status"`
	TotalServices     int             `json:"total_services"`
	HealthyServices   int             `json:"healthy_services"`
	DegradedServices  int             `json:"degraded_services"`
	UnhealthyServices int             `json:"unhealthy_services"`
	HealthyPercent    float64         `json:"healthy_percent"`
	Services          []ServiceStatus `json:"services"`
	Timestamp         time.Time       `json:"timestamp"`
}

// computeHealthScore derives the 0-100 reliability score from consecutive
// failures and the historical failure ratio
func computeHealthScore(consecutiveFailures, failedChecks, totalChecks int) float64 {
	score := 100.0 - 20.0*float64(consecutiveFailures)
	if totalChecks > 0 {
		score -= 50.0 * float64(failedChecks) / float64(totalChecks)
	}
	if score < 0 {
		return 0
	}
	return score
}
