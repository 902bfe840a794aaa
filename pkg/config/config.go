// Package config loads RuntimeOptions from environment variables with an
// optional YAML overlay, grounded on core/pkg/config/config.go's
// env-with-defaults loader and core/pkg/config/profile_loader.go's optional
// YAML file pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeOptions configures one moduforge-go runtime instance: which driver
// tier to run, history/middleware/persistence knobs, and the optional
// distributed admission-control backend.
type RuntimeOptions struct {
	Tier               string        `yaml:"tier" json:"tier"` // "sync" | "async" | "actor" | "auto"
	HistoryLimit       int           `yaml:"history_limit" json:"history_limit"`
	DispatchTimeout    time.Duration `yaml:"dispatch_timeout" json:"dispatch_timeout"`
	MiddlewareTimeout  time.Duration `yaml:"middleware_timeout" json:"middleware_timeout"`
	QueueSize          int           `yaml:"queue_size" json:"queue_size"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	PersistenceDriver string `yaml:"persistence_driver" json:"persistence_driver"` // "sqlite" | "postgres"
	PersistenceDSN    string `yaml:"persistence_dsn" json:"persistence_dsn"`
	CommitMode        string `yaml:"commit_mode" json:"commit_mode"` // "memory_only" | "at_least_once" | "synchronous"
	SnapshotCodec     string `yaml:"snapshot_codec" json:"snapshot_codec"` // "none" | "deflate"

	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

// Default returns the baked-in defaults, overridden by Load's env/YAML
// layers.
func Default() RuntimeOptions {
	return RuntimeOptions{
		Tier:              "auto",
		HistoryLimit:      512,
		DispatchTimeout:   5 * time.Second,
		MiddlewareTimeout: 500 * time.Millisecond,
		QueueSize:         64,
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		PersistenceDriver: "sqlite",
		PersistenceDSN:    "file:moduforge.db?cache=shared",
		CommitMode:        "at_least_once",
		SnapshotCodec:     "deflate",
		LogLevel:          "INFO",
	}
}

// Load builds RuntimeOptions from Default(), an optional YAML file named by
// MODUFORGE_CONFIG_FILE (if set and present), then environment variables
// (highest precedence), matching the layering in profile_loader.go plus
// config.go's env-var loader.
func Load() (RuntimeOptions, error) {
	opts := Default()

	if path := os.Getenv("MODUFORGE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("load config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnvString("MODUFORGE_TIER", &opts.Tier)
	applyEnvInt("MODUFORGE_HISTORY_LIMIT", &opts.HistoryLimit)
	applyEnvDuration("MODUFORGE_DISPATCH_TIMEOUT", &opts.DispatchTimeout)
	applyEnvDuration("MODUFORGE_MIDDLEWARE_TIMEOUT", &opts.MiddlewareTimeout)
	applyEnvInt("MODUFORGE_QUEUE_SIZE", &opts.QueueSize)
	applyEnvString("MODUFORGE_REDIS_ADDR", &opts.RedisAddr)
	applyEnvFloat("MODUFORGE_RATE_LIMIT_RPS", &opts.RateLimitRPS)
	applyEnvInt("MODUFORGE_RATE_LIMIT_BURST", &opts.RateLimitBurst)
	applyEnvString("MODUFORGE_PERSISTENCE_DRIVER", &opts.PersistenceDriver)
	applyEnvString("MODUFORGE_PERSISTENCE_DSN", &opts.PersistenceDSN)
	applyEnvString("MODUFORGE_COMMIT_MODE", &opts.CommitMode)
	applyEnvString("MODUFORGE_SNAPSHOT_CODEC", &opts.SnapshotCodec)
	applyEnvString("MODUFORGE_OTLP_ENDPOINT", &opts.OTLPEndpoint)
	applyEnvString("MODUFORGE_LOG_LEVEL", &opts.LogLevel)

	return opts, nil
}

func applyEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnvInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyEnvFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func applyEnvDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
