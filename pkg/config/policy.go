package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds per-operation and per-service overrides loaded from a YAML
// file. Anything left unset falls back to the process-wide defaults in
// Config; the zero Policy is valid and overrides nothing.
type Policy struct {
	Operations map[string]OperationPolicy `yaml:"operations"`
	Services   map[string]ServicePolicy   `yaml:"services"`
}

// OperationPolicy overrides call-wrapping behavior for one operation name.
type OperationPolicy struct {
	Timeout        Duration       `yaml:"timeout"`
	DisableRetry   bool           `yaml:"disable_retry"`
	DisableBreaker bool           `yaml:"disable_breaker"`
	Retry          *RetryPolicy   `yaml:"retry"`
	Breaker        *BreakerPolicy `yaml:"breaker"`
}

// RetryPolicy overrides the default retry settings. Zero fields keep the
// default; Jitter is a pointer so "false" can be expressed explicitly.
type RetryPolicy struct {
	MaxAttempts       int      `yaml:"max_attempts"`
	BaseDelay         Duration `yaml:"base_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	Jitter            *bool    `yaml:"jitter"`
}

// BreakerPolicy overrides the default circuit breaker thresholds.
type BreakerPolicy struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	VolumeThreshold  int      `yaml:"volume_threshold"`
	ErrorThreshold   float64  `yaml:"error_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
}

// ServicePolicy declares a monitored service and its probe settings.
type ServicePolicy struct {
	Disabled         bool     `yaml:"disabled"`
	Probe            string   `yaml:"probe"` // database | redis | http
	URL              string   `yaml:"url"`   // http probe target
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	Retries          int      `yaml:"retries"`
	FailureThreshold int      `yaml:"failure_threshold"`
	GracePeriod      Duration `yaml:"grace_period"`
}

// Duration decodes YAML values like "250ms" or "30s" (or raw nanosecond
// integers) into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadPolicy reads the policy file at path. An empty path returns an empty
// policy; a missing file is an error so that typos do not silently disable
// overrides.
func LoadPolicy(path string) (*Policy, error) {
	policy := &Policy{
		Operations: make(map[string]OperationPolicy),
		Services:   make(map[string]ServicePolicy),
	}

	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}

	return policy, nil
}

// Validate checks the loaded overrides for values the core would reject
func (p *Policy) Validate() error {
	for name, op := range p.Operations {
		if op.Retry != nil {
			if op.Retry.MaxAttempts < 0 {
				return fmt.Errorf("operation %s: max_attempts must not be negative", name)
			}
			if op.Retry.BackoffMultiplier < 0 || (op.Retry.BackoffMultiplier > 0 && op.Retry.BackoffMultiplier < 1) {
				return fmt.Errorf("operation %s: backoff_multiplier must be at least 1", name)
			}
		}
		if op.Breaker != nil {
			if op.Breaker.ErrorThreshold < 0 || op.Breaker.ErrorThreshold > 1 {
				return fmt.Errorf("operation %s: error_threshold must be between 0 and 1", name)
			}
		}
	}

	for name, svc := range p.Services {
		switch svc.Probe {
		case "", "database", "redis", "http":
		default:
			return fmt.Errorf("service %s: unknown probe type %q", name, svc.Probe)
		}
		if svc.Probe == "http" && svc.URL == "" && !svc.Disabled {
			return fmt.Errorf("service %s: http probe requires a url", name)
		}
	}

	return nil
}
