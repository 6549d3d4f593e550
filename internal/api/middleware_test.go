package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/sentinel/pkg/config"
)

func authTestRouter() *gin.Engine {
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: testJWTSecret, JWTExpiration: time.Hour},
	}

	router := gin.New()
	router.Use(RequestIDMiddleware())
	protected := router.Group("/api/v1")
	protected.Use(AuthMiddleware(cfg))
	protected.GET("/whoami", func(c *gin.Context) {
		operator, exists := GetCurrentOperator(c)
		if !exists {
			UnauthorizedResponse(c, "Operator not found")
			return
		}
		SuccessResponse(c, gin.H{"operator": operator})
	})
	return router
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := authTestRouter()

	w := performRequest(router, "GET", "/api/v1/whoami", nil, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "unauthorized", response.Error.Code)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	router := authTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	router := authTestRouter()

	w := performRequest(router, "GET", "/api/v1/whoami", nil, "not-a-token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	router := authTestRouter()

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	w := performRequest(router, "GET", "/api/v1/whoami", nil, signed)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	router := authTestRouter()

	token := generateTestJWT("ops@example.com", time.Now().Add(-time.Hour))
	w := performRequest(router, "GET", "/api/v1/whoami", nil, token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := authTestRouter()

	token := generateTestJWT("ops@example.com", time.Now().Add(time.Hour))
	w := performRequest(router, "GET", "/api/v1/whoami", nil, token)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeResponse(t, w)
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", data["operator"])
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		SuccessResponse(c, gin.H{"pong": true})
	})

	// Generated when absent
	w := performRequest(router, "GET", "/ping", nil, "")
	generated := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)

	response := decodeResponse(t, w)
	assert.Equal(t, generated, response.RequestID)

	// Echoed when supplied
	req, _ := http.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "req-12345")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-12345", w.Header().Get("X-Request-ID"))
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(RateLimitMiddleware(client, 2, time.Minute))
	router.GET("/ping", func(c *gin.Context) {
		SuccessResponse(c, gin.H{"pong": true})
	})

	w := performRequest(router, "GET", "/ping", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = performRequest(router, "GET", "/ping", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = performRequest(router, "GET", "/ping", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	response := decodeResponse(t, w)
	assert.Equal(t, "rate_limit_exceeded", response.Error.Code)
}

func TestRateLimitMiddleware_FailsOpenWithoutRedis(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(nil, 1, time.Minute))
	router.GET("/ping", func(c *gin.Context) {
		SuccessResponse(c, gin.H{"pong": true})
	})

	for i := 0; i < 5; i++ {
		w := performRequest(router, "GET", "/ping", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
