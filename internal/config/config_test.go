package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
  allowed_origins: ["http://localhost:3000"]
redis:
  addr: "localhost:6379"
  ttl: "2h"
game:
  countdown: "3s"
  max_retries: 5
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Game.MaxRetries != 5 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected game/log config: %+v %+v", cfg.Game, cfg.Log)
	}
	if d := Duration(cfg.Game.Countdown, time.Second); d != 3*time.Second {
		t.Fatalf("expected 3s countdown, got %v", d)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected env redis addr, got %q", cfg.Redis.Addr)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestDurationFallback(t *testing.T) {
	if d := Duration("", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for empty, got %v", d)
	}
	if d := Duration("soon", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for invalid, got %v", d)
	}
	if d := Duration("-1s", time.Minute); d != -time.Second {
		t.Fatalf("expected negative duration to parse, got %v", d)
	}
}
