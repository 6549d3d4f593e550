package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Resilience ResilienceConfig `json:"resilience"`
	Health     HealthConfig     `json:"health"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
	Notify     NotifyConfig     `json:"notify"`
	PolicyFile string           `json:"policy_file"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration for the
// database probe. Driver selects between postgres and mysql.
type DatabaseConfig struct {
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ResilienceConfig contains process-wide defaults for call wrapping
type ResilienceConfig struct {
	RetryEnabled    bool           `json:"retry_enabled"`
	BreakerEnabled  bool           `json:"breaker_enabled"`
	HealthEnabled   bool           `json:"health_enabled"`
	DefaultTimeout  time.Duration  `json:"default_timeout"`
	EventBufferSize int            `json:"event_buffer_size"`
	Retry           RetryDefaults  `json:"retry"`
	Breaker         BreakerDefault `json:"breaker"`
}

// RetryDefaults contains the default retry policy
type RetryDefaults struct {
	MaxAttempts       int           `json:"max_attempts"`
	BaseDelay         time.Duration `json:"base_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
}

// BreakerDefault contains the default circuit breaker thresholds
type BreakerDefault struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	VolumeThreshold  int           `json:"volume_threshold"`
	ErrorThreshold   float64       `json:"error_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
}

// HealthConfig contains default health monitoring policy
type HealthConfig struct {
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	Retries          int           `json:"retries"`
	FailureThreshold int           `json:"failure_threshold"`
	GracePeriod      time.Duration `json:"grace_period"`
}

// AuthConfig contains authentication configuration for the status API
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret"`
	JWTExpiration time.Duration `json:"jwt_expiration"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	JaegerURL   string  `json:"jaeger_url"`
	SampleRate  float64 `json:"sample_rate"`
}

// NotifyConfig contains alert delivery configuration
type NotifyConfig struct {
	Enabled         bool          `json:"enabled"`
	WebhookURL      string        `json:"webhook_url"`
	SlackWebhookURL string        `json:"slack_webhook_url"`
	Timeout         time.Duration `json:"timeout"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnvString("DB_DRIVER", "postgres"),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "sentinel"),
			User:            getEnvString("DB_USER", "sentinel"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Resilience: ResilienceConfig{
			RetryEnabled:    getEnvBool("RESILIENCE_RETRY_ENABLED", true),
			BreakerEnabled:  getEnvBool("RESILIENCE_BREAKER_ENABLED", true),
			HealthEnabled:   getEnvBool("RESILIENCE_HEALTH_ENABLED", true),
			DefaultTimeout:  getEnvDuration("RESILIENCE_DEFAULT_TIMEOUT", 30*time.Second),
			EventBufferSize: getEnvInt("RESILIENCE_EVENT_BUFFER", 256),
			Retry: RetryDefaults{
				MaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", 3),
				BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
				MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
				BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
				Jitter:            getEnvBool("RETRY_JITTER", true),
			},
			Breaker: BreakerDefault{
				FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
				VolumeThreshold:  getEnvInt("BREAKER_VOLUME_THRESHOLD", 10),
				ErrorThreshold:   getEnvFloat("BREAKER_ERROR_THRESHOLD", 0.5),
				ResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			},
		},
		Health: HealthConfig{
			Interval:         getEnvDuration("HEALTH_INTERVAL", 30*time.Second),
			Timeout:          getEnvDuration("HEALTH_TIMEOUT", 5*time.Second),
			Retries:          getEnvInt("HEALTH_RETRIES", 1),
			FailureThreshold: getEnvInt("HEALTH_FAILURE_THRESHOLD", 3),
			GracePeriod:      getEnvDuration("HEALTH_GRACE_PERIOD", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnvString("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnvString("TRACING_SERVICE_NAME", "sentinel"),
			JaegerURL:   getEnvString("JAEGER_URL", "http://localhost:14268/api/traces"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Notify: NotifyConfig{
			Enabled:         getEnvBool("NOTIFY_ENABLED", false),
			WebhookURL:      getEnvString("NOTIFY_WEBHOOK_URL", ""),
			SlackWebhookURL: getEnvString("NOTIFY_SLACK_WEBHOOK_URL", ""),
			Timeout:         getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		PolicyFile: getEnvString("RESILIENCE_POLICY_FILE", ""),
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Resilience.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}

	if c.Resilience.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff multiplier must be at least 1")
	}

	if c.Resilience.Breaker.ErrorThreshold < 0 || c.Resilience.Breaker.ErrorThreshold > 1 {
		return fmt.Errorf("breaker error threshold must be between 0 and 1")
	}

	if c.Resilience.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}

	if c.Health.Interval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}

	if c.Health.Timeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	return nil
}

// DatabaseDSN returns the connection string for the configured driver
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "mysql" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Database.User,
			c.Database.Password,
			c.Database.Host,
			c.Database.Port,
			c.Database.Name,
		)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the host:port address for the Redis probe
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true") || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
