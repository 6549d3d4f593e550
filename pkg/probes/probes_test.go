package probes

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseProbe_NilConnection(t *testing.T) {
	probe := NewDatabaseProbe(nil)

	result := probe.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Error, "nil")
}

func TestRedisProbe(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	probe := NewRedisProbe(client)
	result := probe.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Contains(t, result.Details, "total_connections")

	// A stopped server turns the probe unhealthy
	srv.Close()
	result = probe.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Error)
}

func TestRedisProbe_NilConnection(t *testing.T) {
	probe := NewRedisProbe(nil)

	result := probe.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	probe := NewHTTPProbe(healthy.URL, time.Second)
	result := probe.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, "200", result.Details["status_code"])
}

func TestHTTPProbe_ServerError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	probe := NewHTTPProbe(failing.URL, time.Second)
	result := probe.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, "502", result.Details["status_code"])
	assert.Contains(t, result.Error, "502")
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	probe := NewHTTPProbe("http://127.0.0.1:1", 200*time.Millisecond)

	result := probe.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Error)
}

func TestTCPProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	probe := NewTCPProbe(listener.Addr().String(), time.Second)
	result := probe.Check(context.Background())
	assert.True(t, result.Healthy)

	listener.Close()
	result = probe.Check(context.Background())
	assert.False(t, result.Healthy)
}
