package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/halcyonlabs/sentinel/internal/api"
	"github.com/halcyonlabs/sentinel/internal/notify"
	"github.com/halcyonlabs/sentinel/pkg/config"
	"github.com/halcyonlabs/sentinel/pkg/health"
	"github.com/halcyonlabs/sentinel/pkg/logging"
	"github.com/halcyonlabs/sentinel/pkg/metrics"
	"github.com/halcyonlabs/sentinel/pkg/probes"
	"github.com/halcyonlabs/sentinel/pkg/resilience"
	"github.com/halcyonlabs/sentinel/pkg/tracing"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "sentinel-statusd",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize distributed tracing
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "production"
	}
	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    environment,
		JaegerEndpoint: cfg.Tracing.JaegerURL,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingService.Shutdown(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	// Initialize Prometheus metrics
	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Initialize the resilience coordinator
	coordinator := resilience.NewCoordinator(resilience.CoordinatorConfig{
		DefaultTimeout: cfg.Resilience.DefaultTimeout,
		Retry:          retryConfig(cfg.Resilience.Retry, nil),
		Breaker:        breakerConfig(cfg.Resilience.Breaker, nil),
		DisableRetry:   !cfg.Resilience.RetryEnabled,
		DisableBreaker: !cfg.Resilience.BreakerEnabled,
		EventBuffer:    cfg.Resilience.EventBufferSize,
	}, logger)

	// Load per-operation and per-service overrides
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load resilience policy: %v", err)
	}
	if cfg.PolicyFile != "" {
		log.Printf("Loaded resilience policy from %s", cfg.PolicyFile)
	}
	applyOperationPolicies(coordinator, cfg, policy)

	// Register monitored services and their probes. Probe targets are not
	// pinged here: an unreachable dependency at startup is exactly what the
	// monitor exists to report.
	var db *sqlx.DB
	var redisClient *redis.Client
	if cfg.Resilience.HealthEnabled {
		db, redisClient, err = registerServices(coordinator, cfg, policy, tracingService)
		if err != nil {
			log.Fatalf("Failed to register services: %v", err)
		}
		log.Printf("Monitoring %d services", len(coordinator.Monitor().ServiceNames()))
	}
	if db != nil {
		defer db.Close()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Wire alert delivery channels. The structured log always receives
	// alerts; webhook and Slack delivery are opt-in.
	coordinator.Monitor().AddAlertHandler(health.NewLoggingAlertHandler(logger))
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize notification logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	for _, handler := range notify.Handlers(cfg.Notify, zapLogger) {
		coordinator.Monitor().AddAlertHandler(handler)
	}

	// Start the event consumers and the scheduled probe loops
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	bridge := metrics.NewEventBridge(m, coordinator.Subscribe())
	go bridge.Run(runCtx)

	collector := metrics.NewMetricsCollector(m, coordinator, 15*time.Second)
	if db != nil {
		collector.SetDatabase(db)
	}
	if redisClient != nil {
		collector.SetRedis(redisClient)
	}
	go collector.Start(runCtx)

	eventLog := api.NewEventLog(0)
	go eventLog.Run(runCtx, coordinator.Subscribe())

	if cfg.Resilience.HealthEnabled {
		coordinator.Start(runCtx)
	}

	// Create the status API router with all dependencies
	router := api.NewRouter(api.Dependencies{
		Config:      cfg,
		Coordinator: coordinator,
		Metrics:     m,
		Tracing:     tracingService,
		Redis:       redisClient,
		EventLog:    eventLog,
		Logger:      logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting status API server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop probe loops, close the event stream, then stop the samplers
	coordinator.Stop()
	collector.Stop()
	runCancel()

	log.Println("Server exited")
}

// applyOperationPolicies installs per-operation overrides from the policy
// file onto the coordinator
func applyOperationPolicies(coordinator *resilience.Coordinator, cfg *config.Config, policy *config.Policy) {
	for name, op := range policy.Operations {
		opts := resilience.Options{
			Timeout:        op.Timeout.Std(),
			DisableRetry:   op.DisableRetry,
			DisableBreaker: op.DisableBreaker,
		}
		if op.Retry != nil {
			retryCfg := retryConfig(cfg.Resilience.Retry, op.Retry)
			opts.Retry = &retryCfg
		}
		coordinator.SetOperationPolicy(name, opts)

		if op.Breaker != nil {
			coordinator.ConfigureBreaker(name, breakerConfig(cfg.Resilience.Breaker, op.Breaker))
		}
	}
}

// retryConfig merges the process-wide retry defaults with an optional
// per-operation override; zero override fields keep the default
func retryConfig(defaults config.RetryDefaults, override *config.RetryPolicy) resilience.RetryConfig {
	out := resilience.RetryConfig{
		MaxAttempts:       defaults.MaxAttempts,
		BaseDelay:         defaults.BaseDelay,
		MaxDelay:          defaults.MaxDelay,
		BackoffMultiplier: defaults.BackoffMultiplier,
		Jitter:            defaults.Jitter,
	}
	if override == nil {
		return out
	}
	if override.MaxAttempts > 0 {
		out.MaxAttempts = override.MaxAttempts
	}
	if override.BaseDelay > 0 {
		out.BaseDelay = override.BaseDelay.Std()
	}
	if override.MaxDelay > 0 {
		out.MaxDelay = override.MaxDelay.Std()
	}
	if override.BackoffMultiplier > 0 {
		out.BackoffMultiplier = override.BackoffMultiplier
	}
	if override.Jitter != nil {
		out.Jitter = *override.Jitter
	}
	return out
}

// breakerConfig merges the process-wide breaker defaults with an optional
// per-operation override
func breakerConfig(defaults config.BreakerDefault, override *config.BreakerPolicy) resilience.CircuitBreakerConfig {
	out := resilience.CircuitBreakerConfig{
		FailureThreshold: defaults.FailureThreshold,
		SuccessThreshold: defaults.SuccessThreshold,
		VolumeThreshold:  defaults.VolumeThreshold,
		ErrorThreshold:   defaults.ErrorThreshold,
		ResetTimeout:     defaults.ResetTimeout,
	}
	if override == nil {
		return out
	}
	if override.FailureThreshold > 0 {
		out.FailureThreshold = override.FailureThreshold
	}
	if override.SuccessThreshold > 0 {
		out.SuccessThreshold = override.SuccessThreshold
	}
	if override.VolumeThreshold > 0 {
		out.VolumeThreshold = override.VolumeThreshold
	}
	if override.ErrorThreshold > 0 {
		out.ErrorThreshold = override.ErrorThreshold
	}
	if override.ResetTimeout > 0 {
		out.ResetTimeout = override.ResetTimeout.Std()
	}
	return out
}

// registerServices declares every service from the policy file on the health
// monitor, opening the shared database pool and Redis client on first use
func registerServices(coordinator *resilience.Coordinator, cfg *config.Config, policy *config.Policy, tracingService *tracing.TracingService) (*sqlx.DB, *redis.Client, error) {
	var db *sqlx.DB
	var redisClient *redis.Client

	monitor := coordinator.Monitor()
	for name, svc := range policy.Services {
		if svc.Disabled {
			continue
		}

		serviceCfg := serviceConfig(cfg, svc)

		switch svc.Probe {
		case "database":
			if db == nil {
				opened, err := sqlx.Open(cfg.Database.Driver, cfg.DatabaseDSN())
				if err != nil {
					return db, redisClient, fmt.Errorf("open database for %s probe: %w", name, err)
				}
				opened.SetMaxOpenConns(cfg.Database.MaxOpenConns)
				opened.SetMaxIdleConns(cfg.Database.MaxIdleConns)
				opened.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
				db = opened
			}
			serviceCfg.Checks = []health.CheckFunc{probes.NewDatabaseProbe(db).Check}
		case "redis":
			if redisClient == nil {
				redisClient = redis.NewClient(&redis.Options{
					Addr:     cfg.RedisAddr(),
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
					PoolSize: cfg.Redis.PoolSize,
				})
			}
			serviceCfg.Checks = []health.CheckFunc{probes.NewRedisProbe(redisClient).Check}
		case "http":
			client := tracingService.InstrumentHTTPClient(&http.Client{Timeout: serviceCfg.Timeout})
			serviceCfg.Checks = []health.CheckFunc{probes.NewHTTPProbeWithClient(svc.URL, client).Check}
		}

		if err := monitor.RegisterService(name, serviceCfg); err != nil {
			return db, redisClient, fmt.Errorf("register service %s: %w", name, err)
		}
	}

	return db, redisClient, nil
}

// serviceConfig merges the process-wide health defaults with one service's
// policy entry
func serviceConfig(cfg *config.Config, svc config.ServicePolicy) health.ServiceConfig {
	out := health.ServiceConfig{
		Enabled:          true,
		Interval:         cfg.Health.Interval,
		Timeout:          cfg.Health.Timeout,
		Retries:          cfg.Health.Retries,
		FailureThreshold: cfg.Health.FailureThreshold,
		GracePeriod:      cfg.Health.GracePeriod,
	}
	if svc.Interval > 0 {
		out.Interval = svc.Interval.Std()
	}
	if svc.Timeout > 0 {
		out.Timeout = svc.Timeout.Std()
	}
	if svc.Retries > 0 {
		out.Retries = svc.Retries
	}
	if svc.FailureThreshold > 0 {
		out.FailureThreshold = svc.FailureThreshold
	}
	if svc.GracePeriod > 0 {
		out.GracePeriod = svc.GracePeriod.Std()
	}
	return out
}
