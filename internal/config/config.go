// Package config loads the engine configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig controls the Postgres connection. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	Migrate      bool   `yaml:"migrate"`
}

// AuthConfig controls token verification.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	SkipPaths []string `yaml:"skip_paths"`
}

// RateLimitConfig controls per-caller throttling.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"requests_per_second"`
	Burst             int  `yaml:"burst"`
	Enabled           bool `yaml:"enabled"`
}

// WorkflowConfig controls engine behavior.
type WorkflowConfig struct {
	DeadlineSchedule string `yaml:"deadline_schedule"`
	BlobDir          string `yaml:"blob_dir"`
	AccessLogPath    string `yaml:"access_log_path"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Workflow  WorkflowConfig       `yaml:"workflow"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	CORS      []string             `yaml:"cors_origins"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			Migrate:      true,
		},
		Auth: AuthConfig{
			SkipPaths: []string{"/healthz", "/metrics"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Workflow: WorkflowConfig{
			DeadlineSchedule: "@hourly",
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json", Component: "diligenced"},
		CORS:    []string{"*"},
	}
}

// Load reads YAML from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwt_secret (or DILIGENCE_JWT_SECRET) is required")
	}
	return cfg, nil
}

// LoadOrDefault loads from path, falling back to defaults plus
// environment when the file is absent.
func LoadOrDefault(path string) (Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	applyEnv(&cfg)
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("DILIGENCE_JWT_SECRET is required when no config file is present")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DILIGENCE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DILIGENCE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DILIGENCE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DILIGENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DILIGENCE_DEADLINE_SCHEDULE"); v != "" {
		cfg.Workflow.DeadlineSchedule = v
	}
	if v := os.Getenv("DILIGENCE_BLOB_DIR"); v != "" {
		cfg.Workflow.BlobDir = v
	}
	if v := os.Getenv("DILIGENCE_ACCESS_LOG"); v != "" {
		cfg.Workflow.AccessLogPath = v
	}
	if v := os.Getenv("DILIGENCE_CORS_ORIGINS"); v != "" {
		cfg.CORS = strings.Split(v, ",")
	}
	if v := os.Getenv("DILIGENCE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.RequestsPerSecond = n
		}
	}
	if v := os.Getenv("DILIGENCE_MIGRATE"); v != "" {
		cfg.Database.Migrate = v == "true" || v == "1"
	}
}
