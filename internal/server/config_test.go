package server

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != "8080" || cfg.GRPCPort != "9090" {
		t.Errorf("ports = %s/%s, want 8080/9090", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Backend != BackendNATS {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendNATS)
	}
	if cfg.ReaperInterval != 5*time.Second || cfg.ReaperBatch != 500 {
		t.Errorf("reaper = %v/%d, want 5s/500", cfg.ReaperInterval, cfg.ReaperBatch)
	}
	if cfg.CandidateFactor != 4 || cfg.MaxCandidates != 1000 {
		t.Errorf("candidate window = %d/%d, want 4/1000", cfg.CandidateFactor, cfg.MaxCandidates)
	}
	if cfg.NatsScanBudget != 10000 {
		t.Errorf("NatsScanBudget = %d, want 10000", cfg.NatsScanBudget)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("OJS_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("OJS_REAPER_INTERVAL", "250ms")
	t.Setenv("OJS_CANDIDATE_FACTOR", "8")
	t.Setenv("OJS_ALLOW_INSECURE_NO_AUTH", "true")
	t.Setenv("OJS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Backend != BackendRedis || cfg.RedisAddr != "cache:6380" {
		t.Errorf("backend = %q at %q, want redis at cache:6380", cfg.Backend, cfg.RedisAddr)
	}
	if cfg.ReaperInterval != 250*time.Millisecond {
		t.Errorf("ReaperInterval = %v, want 250ms", cfg.ReaperInterval)
	}
	if cfg.CandidateFactor != 8 {
		t.Errorf("CandidateFactor = %d, want 8", cfg.CandidateFactor)
	}
	if !cfg.AllowInsecureNoAuth {
		t.Error("AllowInsecureNoAuth = false, want true")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"OJS_BACKEND": "mongo"}},
		{"postgres without dsn", map[string]string{"OJS_BACKEND": "postgres"}},
		{"zero reaper interval", map[string]string{"OJS_REAPER_INTERVAL": "0s"}},
		{"zero batch", map[string]string{"OJS_REAPER_BATCH": "0"}},
		{"scan budget below window", map[string]string{"OJS_NATS_SCAN_BUDGET": "10"}},
		{"malformed duration", map[string]string{"OJS_READ_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POSTGRES_DSN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("LoadConfig() error = nil, want error")
			}
		})
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := Config{Backend: BackendMemory, CandidateFactor: 4, MaxCandidates: 1000}
	b, err := OpenBackend(ctx, cfg, slog.Default())
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}
	defer b.Close()

	if b.Engine != nil || b.Events != nil {
		t.Error("memory backend should not provide engine or events")
	}
	svc := b.Service(cfg, slog.Default())
	health, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Backend.Type != BackendMemory {
		t.Errorf("backend type = %q, want %q", health.Backend.Type, BackendMemory)
	}
}
