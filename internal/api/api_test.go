package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/sentinel/pkg/config"
	"github.com/halcyonlabs/sentinel/pkg/health"
	"github.com/halcyonlabs/sentinel/pkg/logging"
	"github.com/halcyonlabs/sentinel/pkg/resilience"
)

const testJWTSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// Test setup helpers

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     testJWTSecret,
			JWTExpiration: time.Hour,
		},
		Logging: config.LoggingConfig{Level: "error"},
	}
	coordinator := resilience.NewCoordinator(resilience.DefaultCoordinatorConfig(), nil)
	return Dependencies{
		Config:      cfg,
		Coordinator: coordinator,
		EventLog:    NewEventLog(64),
		Logger:      quietLogger(t),
	}
}

func generateTestJWT(subject string, expiresAt time.Time) string {
	claims := JWTClaims{
		Name: "Test Operator",
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sentinel",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testJWTSecret))
	return tokenString
}

func performRequest(router *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func passingCheck() health.CheckFunc {
	return func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: true}
	}
}

func failingCheck(msg string) health.CheckFunc {
	return func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Healthy: false, Error: msg}
	}
}

func manualConfig(checks ...health.CheckFunc) health.ServiceConfig {
	return health.ServiceConfig{
		Enabled:          false,
		Interval:         time.Minute,
		Timeout:          time.Second,
		FailureThreshold: 3,
		Checks:           checks,
	}
}

// Tests

func TestAPIVersionEndpoint(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "GET", "/api/v1", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	assert.True(t, response.Success)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealthEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	// No services registered reads as degraded
	w := performRequest(router, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusPartialContent, w.Code)

	w = performRequest(router, "GET", "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "GET", "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, deps.Coordinator.RegisterService("db", manualConfig(passingCheck())))
	_, err := deps.Coordinator.Monitor().CheckService(context.Background(), "db")
	require.NoError(t, err)

	w = performRequest(router, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListServices(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	w := performRequest(router, "GET", "/api/v1/services", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 0, response.Meta.Count)

	require.NoError(t, deps.Coordinator.RegisterService("db", manualConfig(passingCheck())))
	require.NoError(t, deps.Coordinator.RegisterService("cache", manualConfig(passingCheck())))

	w = performRequest(router, "GET", "/api/v1/services", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response = decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 2, response.Meta.Count)

	views, ok := response.Data.([]interface{})
	require.True(t, ok)
	first, ok := views[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cache", first["name"])
}

func TestGetService(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	require.NoError(t, deps.Coordinator.RegisterService("search", manualConfig(passingCheck())))

	w := performRequest(router, "GET", "/api/v1/services/search", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "search", data["name"])
}

func TestGetService_NotFound(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "GET", "/api/v1/services/ghost", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "SERVICE_NOT_REGISTERED", response.Error.Code)
}

func TestRegisterService(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	body := RegisterServiceRequest{
		Name:             "billing",
		IntervalSeconds:  15,
		FailureThreshold: 2,
	}
	w := performRequest(router, "POST", "/api/v1/services", body, token)

	assert.Equal(t, http.StatusCreated, w.Code)
	response := decodeResponse(t, w)
	assert.True(t, response.Success)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "billing", data["name"])

	names := deps.Coordinator.Monitor().ServiceNames()
	assert.Contains(t, names, "billing")
}

func TestRegisterService_RequiresAuth(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "POST", "/api/v1/services", RegisterServiceRequest{Name: "billing"}, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	response := decodeResponse(t, w)
	assert.Equal(t, "unauthorized", response.Error.Code)
}

func TestRegisterService_Validation(t *testing.T) {
	router := NewRouter(newTestDeps(t))
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	// Missing name fails binding
	w := performRequest(router, "POST", "/api/v1/services", map[string]interface{}{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Both probe targets at once is rejected
	body := RegisterServiceRequest{
		Name:         "billing",
		ProbeURL:     "http://billing.internal/health",
		ProbeAddress: "billing.internal:5432",
	}
	w = performRequest(router, "POST", "/api/v1/services", body, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	response := decodeResponse(t, w)
	assert.Equal(t, "VALIDATION_ERROR", response.Error.Code)
}

func TestDeregisterService(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	require.NoError(t, deps.Coordinator.RegisterService("cache", manualConfig(passingCheck())))

	w := performRequest(router, "DELETE", "/api/v1/services/cache", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, deps.Coordinator.Monitor().ServiceNames(), "cache")

	w = performRequest(router, "DELETE", "/api/v1/services/cache", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckService(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	require.NoError(t, deps.Coordinator.RegisterService("search", manualConfig(passingCheck())))

	w := performRequest(router, "POST", "/api/v1/services/search/check", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["healthy"])
}

func TestCheckAllServices(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	require.NoError(t, deps.Coordinator.RegisterService("db", manualConfig(passingCheck())))
	require.NoError(t, deps.Coordinator.RegisterService("queue", manualConfig(failingCheck("connection refused"))))

	w := performRequest(router, "POST", "/api/v1/checks", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 2, response.Meta.Count)
}

func TestAlertLifecycle(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	cfg := manualConfig(failingCheck("connection refused"))
	cfg.FailureThreshold = 1
	require.NoError(t, deps.Coordinator.RegisterService("payments", cfg))
	_, err := deps.Coordinator.Monitor().CheckService(context.Background(), "payments")
	require.NoError(t, err)

	w := performRequest(router, "GET", "/api/v1/alerts", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	require.Equal(t, 1, response.Meta.Count)

	alerts, ok := response.Data.([]interface{})
	require.True(t, ok)
	alert, ok := alerts[0].(map[string]interface{})
	require.True(t, ok)
	alertID, ok := alert["id"].(string)
	require.True(t, ok)

	w = performRequest(router, "GET", "/api/v1/alerts/"+alertID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/api/v1/alerts/"+alertID+"/ack", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	response = decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["acknowledged"])

	w = performRequest(router, "POST", "/api/v1/alerts/"+alertID+"/resolve", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	// Resolved alerts drop out of the default listing
	w = performRequest(router, "GET", "/api/v1/alerts", nil, "")
	response = decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 0, response.Meta.Count)

	w = performRequest(router, "GET", "/api/v1/alerts?all=true", nil, "")
	response = decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 1, response.Meta.Count)
}

func TestGetAlert_NotFound(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "GET", "/api/v1/alerts/nope", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := decodeResponse(t, w)
	assert.Equal(t, "ALERT_NOT_FOUND", response.Error.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)
	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))

	_, err := deps.Coordinator.Execute(context.Background(), "checkout", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)

	w := performRequest(router, "GET", "/api/v1/breakers", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 1, response.Meta.Count)

	w = performRequest(router, "GET", "/api/v1/breakers/checkout", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response = decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "closed", data["state"])
	assert.Equal(t, float64(1), data["successes"])

	w = performRequest(router, "POST", "/api/v1/breakers/checkout/reset", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	response = decodeResponse(t, w)
	data, ok = response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), data["successes"])
}

func TestStatsEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	_, err := deps.Coordinator.Execute(context.Background(), "checkout", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)

	w := performRequest(router, "GET", "/api/v1/stats", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["total_operations"])
	assert.Equal(t, float64(1), data["successful_operations"])

	w = performRequest(router, "GET", "/api/v1/system", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response = decodeResponse(t, w)
	data, ok = response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["status"])
}

func TestEventsEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := deps.Coordinator.Subscribe()
	go deps.EventLog.Run(ctx, sub)

	_, err := deps.Coordinator.Execute(context.Background(), "checkout", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return deps.EventLog.Len() > 0
	}, time.Second, 10*time.Millisecond)

	w := performRequest(router, "GET", "/api/v1/events", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	assert.GreaterOrEqual(t, response.Meta.Count, 1)

	w = performRequest(router, "GET", "/api/v1/events?type=operation_succeeded", nil, "")
	response = decodeResponse(t, w)
	require.NotNil(t, response.Meta)
	require.GreaterOrEqual(t, response.Meta.Count, 1)
	events, ok := response.Data.([]interface{})
	require.True(t, ok)
	event, ok := events[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "operation_succeeded", event["type"])
	assert.Equal(t, "checkout", event["operation"])

	w = performRequest(router, "GET", "/api/v1/events?limit=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	req, _ := http.NewRequest("OPTIONS", "/api/v1/services", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "GET", "/api/v1", nil, "")

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestNotFoundRoute(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	w := performRequest(router, "GET", "/api/v1/nonexistent", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "not_found", response.Error.Code)
}
