// Package probes provides ready-made health check functions for common
// dependencies. Each probe satisfies the health.CheckFunc contract, so a
// probe method can be handed straight to the monitor.
package probes

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/sentinel/pkg/health"
)

// DatabaseProbe checks SQL database connectivity over sqlx
type DatabaseProbe struct {
	db *sqlx.DB
}

// NewDatabaseProbe creates a new database probe
func NewDatabaseProbe(db *sqlx.DB) *DatabaseProbe {
	return &DatabaseProbe{db: db}
}

// Check pings the database and reports connection pool usage
func (p *DatabaseProbe) Check(ctx context.Context) health.CheckResult {
	if p.db == nil {
		return health.CheckResult{Healthy: false, Error: "database connection is nil"}
	}

	if err := p.db.PingContext(ctx); err != nil {
		return health.CheckResult{Healthy: false, Error: err.Error()}
	}

	stats := p.db.Stats()
	return health.CheckResult{
		Healthy: true,
		Details: map[string]string{
			"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
			"idle_connections": fmt.Sprintf("%d", stats.Idle),
			"max_connections":  fmt.Sprintf("%d", stats.MaxOpenConnections),
			"wait_count":       fmt.Sprintf("%d", stats.WaitCount),
		},
	}
}

// RedisProbe checks Redis connectivity
type RedisProbe struct {
	client *redis.Client
}

// NewRedisProbe creates a new Redis probe
func NewRedisProbe(client *redis.Client) *RedisProbe {
	return &RedisProbe{client: client}
}

// Check pings Redis and reports connection pool usage
func (p *RedisProbe) Check(ctx context.Context) health.CheckResult {
	if p.client == nil {
		return health.CheckResult{Healthy: false, Error: "redis connection is nil"}
	}

	if err := p.client.Ping(ctx).Err(); err != nil {
		return health.CheckResult{Healthy: false, Error: err.Error()}
	}

	stats := p.client.PoolStats()
	return health.CheckResult{
		Healthy: true,
		Details: map[string]string{
			"total_connections": fmt.Sprintf("%d", stats.TotalConns),
			"idle_connections":  fmt.Sprintf("%d", stats.IdleConns),
			"stale_connections": fmt.Sprintf("%d", stats.StaleConns),
		},
	}
}

// HTTPProbe checks an HTTP endpoint
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a new HTTP probe. The supplied timeout bounds the
// request independently of the monitor's attempt timeout.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return NewHTTPProbeWithClient(url, &http.Client{
		Timeout: timeout,
	})
}

// NewHTTPProbeWithClient creates an HTTP probe using the given client, which
// lets callers supply an instrumented transport
func NewHTTPProbeWithClient(url string, client *http.Client) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: client,
	}
}

// Check issues a GET and treats any 2xx response as healthy
func (p *HTTPProbe) Check(ctx context.Context) health.CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return health.CheckResult{Healthy: false, Error: fmt.Sprintf("failed to create request: %v", err)}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return health.CheckResult{Healthy: false, Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	details := map[string]string{
		"status_code": fmt.Sprintf("%d", resp.StatusCode),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return health.CheckResult{Healthy: true, Details: details}
	}
	return health.CheckResult{
		Healthy: false,
		Details: details,
		Error:   fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
	}
}

// TCPProbe checks that a TCP endpoint accepts connections
type TCPProbe struct {
	address string
	timeout time.Duration
}

// NewTCPProbe creates a new TCP probe for host:port
func NewTCPProbe(address string, timeout time.Duration) *TCPProbe {
	return &TCPProbe{address: address, timeout: timeout}
}

// Check dials the endpoint and closes the connection immediately
func (p *TCPProbe) Check(ctx context.Context) health.CheckResult {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return health.CheckResult{Healthy: false, Error: err.Error()}
	}
	_ = conn.Close()
	return health.CheckResult{
		Healthy: true,
		Details: map[string]string{"address": p.address},
	}
}
