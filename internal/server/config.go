package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by OJS_BACKEND.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port     string `env:"OJS_PORT" envDefault:"8080"`
	GRPCPort string `env:"OJS_GRPC_PORT" envDefault:"9090"`
	Backend  string `env:"OJS_BACKEND" envDefault:"nats"`

	NatsURL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsScanBudget int    `env:"OJS_NATS_SCAN_BUDGET" envDefault:"10000"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`

	ReaperInterval  time.Duration `env:"OJS_REAPER_INTERVAL" envDefault:"5s"`
	ReaperBatch     int           `env:"OJS_REAPER_BATCH" envDefault:"500"`
	CandidateFactor int           `env:"OJS_CANDIDATE_FACTOR" envDefault:"4"`
	MaxCandidates   int           `env:"OJS_MAX_CANDIDATES" envDefault:"1000"`

	APIKey              string `env:"OJS_API_KEY"`
	AllowInsecureNoAuth bool   `env:"OJS_ALLOW_INSECURE_NO_AUTH" envDefault:"false"`

	ReadTimeout     time.Duration `env:"OJS_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"OJS_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"OJS_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"OJS_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel string `env:"OJS_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendNATS, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when OJS_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown OJS_BACKEND %q", c.Backend)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("OJS_REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	if c.ReaperBatch < 1 {
		return fmt.Errorf("OJS_REAPER_BATCH must be at least 1, got %d", c.ReaperBatch)
	}
	if c.CandidateFactor < 1 || c.MaxCandidates < 1 {
		return fmt.Errorf("OJS_CANDIDATE_FACTOR and OJS_MAX_CANDIDATES must be at least 1")
	}
	if c.Backend == BackendNATS && c.NatsScanBudget < c.MaxCandidates {
		return fmt.Errorf("OJS_NATS_SCAN_BUDGET must be at least OJS_MAX_CANDIDATES (%d), got %d", c.MaxCandidates, c.NatsScanBudget)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
