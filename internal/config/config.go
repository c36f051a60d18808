// Package config provides environment-aware configuration management
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Host string
	Port int

	// KataGo engine
	KatagoPath      string
	ModelPath       string
	HumanModelPath  string
	EngineConfig    string
	QueryTimeout    time.Duration
	KeepaliveEvery  time.Duration
	RestartBackoff  time.Duration
	MaxRestarts     int
	EngineInitWait  time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitBurst    int

	// Analysis cache
	CacheRedisAddr     string
	CacheRedisPassword string
	CacheRedisDB       int
	CacheTTL           time.Duration

	// Shutdown
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment, loading an optional .env
// file first. The file path defaults to ".env" and can be overridden with
// KATAGO_SERVER_ENV_FILE.
func Load() (*Config, error) {
	envFile := getEnv("KATAGO_SERVER_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		// The env file is optional; only fail on parse errors so a missing
		// file does not block container deployments configured purely by env.
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Host: getEnv("KATAGO_SERVER_HOST", "0.0.0.0"),
		Port: getEnvInt("KATAGO_SERVER_PORT", 2718),

		KatagoPath:     getEnv("KATAGO_KATAGO_PATH", "./katago"),
		ModelPath:      getEnv("KATAGO_MODEL_PATH", "./model.bin.gz"),
		HumanModelPath: getEnv("KATAGO_HUMAN_MODEL_PATH", ""),
		EngineConfig:   getEnv("KATAGO_CONFIG_PATH", "./analysis_config.cfg"),
		QueryTimeout:   time.Duration(getEnvInt("KATAGO_MOVE_TIMEOUT_SECS", 20)) * time.Second,
		KeepaliveEvery: getEnvDuration("KATAGO_KEEPALIVE_INTERVAL", 30*time.Second),
		RestartBackoff: getEnvDuration("KATAGO_RESTART_BACKOFF", 5*time.Second),
		MaxRestarts:    getEnvInt("KATAGO_MAX_RESTARTS", 5),
		EngineInitWait: getEnvDuration("KATAGO_INIT_WAIT", 5*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 40),

		CacheRedisAddr:     getEnv("CACHE_REDIS_ADDR", ""),
		CacheRedisPassword: getEnv("CACHE_REDIS_PASSWORD", ""),
		CacheRedisDB:       getEnvInt("CACHE_REDIS_DB", 0),
		CacheTTL:           time.Duration(getEnvInt("CACHE_TTL_SECS", 3600)) * time.Second,

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid KATAGO_SERVER_PORT: %d", c.Port)
	}
	if c.KatagoPath == "" {
		return fmt.Errorf("KATAGO_KATAGO_PATH must not be empty")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("KATAGO_MODEL_PATH must not be empty")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("KATAGO_MOVE_TIMEOUT_SECS must be positive")
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("KATAGO_MAX_RESTARTS must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
