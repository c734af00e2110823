// Package config validates and exposes the server's environment configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Congyuwang/wuziqi/internal/logging"
	"go.uber.org/zap"
)

// Config holds validated environment configuration for the bootstrap process.
type Config struct {
	Port     string
	GoEnv    string
	LogLevel string

	AllowedOrigins []string

	// OutboundQueueCapacity bounds a connection's outbound send channel (§5 backpressure).
	OutboundQueueCapacity int
	// StallGracePeriod is how long a connection may sit with a full outbound
	// queue before it is treated as Disconnected.
	StallGracePeriod time.Duration

	// RoomCleanupGracePeriod delays deleting an emptied room's token from
	// the registry (see registry.Defaults.CleanupGrace).
	RoomCleanupGracePeriod time.Duration

	// Default SessionConfig values, used when CreateRoom omits a field.
	DefaultMoveTimeout        time.Duration
	DefaultUndoRequestTimeout time.Duration
	DefaultUndoDial           int // 0 means unbounded

	RateLimitWSIP   string
	RateLimitWSUser string

	OTELCollectorAddr string
}

// Load validates all required environment variables and returns a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	origins := getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	cfg.AllowedOrigins = strings.Split(origins, ",")

	cfg.OutboundQueueCapacity = getEnvIntOrDefault("OUTBOUND_QUEUE_CAPACITY", 32)
	cfg.StallGracePeriod = getEnvDurationOrDefault("STALL_GRACE_PERIOD", 15*time.Second)
	cfg.RoomCleanupGracePeriod = getEnvDurationOrDefault("ROOM_CLEANUP_GRACE_PERIOD", 5*time.Second)

	cfg.DefaultMoveTimeout = getEnvDurationOrDefault("DEFAULT_MOVE_TIMEOUT", 30*time.Second)
	cfg.DefaultUndoRequestTimeout = getEnvDurationOrDefault("DEFAULT_UNDO_REQUEST_TIMEOUT", 15*time.Second)
	cfg.DefaultUndoDial = getEnvIntOrDefault("DEFAULT_UNDO_DIAL", 0)

	cfg.RateLimitWSIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "20-M")
	cfg.RateLimitWSUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func logValidatedConfig(cfg *Config) {
	logging.Info(context.Background(), "environment configuration validated",
		zap.String("port", cfg.Port),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Int("outbound_queue_capacity", cfg.OutboundQueueCapacity),
		zap.Duration("stall_grace_period", cfg.StallGracePeriod),
		zap.Duration("default_move_timeout", cfg.DefaultMoveTimeout),
		zap.Duration("default_undo_request_timeout", cfg.DefaultUndoRequestTimeout),
		zap.Int("default_undo_dial", cfg.DefaultUndoDial),
	)
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
