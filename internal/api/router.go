package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonlabs/sentinel/pkg/config"
	"github.com/halcyonlabs/sentinel/pkg/logging"
	"github.com/halcyonlabs/sentinel/pkg/metrics"
	"github.com/halcyonlabs/sentinel/pkg/resilience"
	"github.com/halcyonlabs/sentinel/pkg/tracing"
)

// Dependencies carries everything the router needs. Redis and EventLog are
// optional; without Redis there is no rate limiting, without an EventLog
// the events endpoint serves an empty window.
type Dependencies struct {
	Config      *config.Config
	Coordinator *resilience.Coordinator
	Metrics     *metrics.Metrics
	Tracing     *tracing.TracingService
	Redis       *redis.Client
	EventLog    *EventLog
	Logger      *logging.Logger
}

// NewRouter creates and configures the status API router
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	if deps.EventLog == nil {
		deps.EventLog = NewEventLog(0)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger, deps.Metrics))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:          12 * time.Hour,
	}))
	router.Use(SecurityHeadersMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	router.Use(RateLimitMiddleware(deps.Redis, 100, time.Minute))

	monitor := deps.Coordinator.Monitor()

	// Health and metrics endpoints (no auth required)
	router.GET("/health", monitor.Handler())
	router.GET("/health/live", monitor.LivenessHandler())
	router.GET("/health/ready", monitor.ReadinessHandler())
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API version info (no auth required)
	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "Sentinel Status API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	serviceHandler := NewServiceHandler(deps.Coordinator, deps.Tracing)
	alertHandler := NewAlertHandler(deps.Coordinator)
	breakerHandler := NewBreakerHandler(deps.Coordinator)
	statsHandler := NewStatsHandler(deps.Coordinator)
	eventHandler := NewEventHandler(deps.EventLog)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/system", statsHandler.GetSystem)
		v1.GET("/stats", statsHandler.GetStats)

		v1.GET("/services", serviceHandler.ListServices)
		v1.GET("/services/:name", serviceHandler.GetService)

		v1.GET("/breakers", breakerHandler.ListBreakers)
		v1.GET("/breakers/:key", breakerHandler.GetBreaker)

		v1.GET("/alerts", alertHandler.ListAlerts)
		v1.GET("/alerts/:id", alertHandler.GetAlert)

		v1.GET("/events", eventHandler.ListEvents)

		// Mutating endpoints require an operator token
		protected := v1.Group("")
		protected.Use(AuthMiddleware(deps.Config))
		{
			protected.POST("/services", serviceHandler.RegisterService)
			protected.DELETE("/services/:name", serviceHandler.DeregisterService)
			protected.POST("/services/:name/check", serviceHandler.CheckService)
			protected.POST("/checks", serviceHandler.CheckAllServices)

			protected.POST("/alerts/:id/ack", alertHandler.AcknowledgeAlert)
			protected.POST("/alerts/:id/resolve", alertHandler.ResolveAlert)

			protected.POST("/breakers/:key/reset", breakerHandler.ResetBreaker)
		}
	}

	router.NoRoute(NoRouteHandler())

	return router
}
