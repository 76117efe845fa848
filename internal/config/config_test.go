package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir moves into dir for the test so Load does not pick up a stray .env file.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsYAMLAndEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
server:
  port: "9000"
redis:
  addr: localhost:6379
  ttl: 2h
session:
  time_limit_seconds: 25
  tie_policy: fastest
`)
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("SESSION_TIE_POLICY", "shared")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" || cfg.Session.TimeLimitSeconds != 25 {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Redis.Addr != "redis:6380" || cfg.Session.TiePolicy != "shared" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if got := TTLDuration(cfg.Redis.TTL, time.Minute); got != 2*time.Hour {
		t.Fatalf("expected 2h ttl, got %v", got)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "7000")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("a missing config file should be fine: %v", err)
	}
	if cfg.Server.Port != "7000" {
		t.Fatalf("expected env-only port, got %q", cfg.Server.Port)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SESSION_JOIN_URL=https://quiz.example/join\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SESSION_JOIN_URL") })

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.JoinURL != "https://quiz.example/join" {
		t.Fatalf("expected join url from .env, got %q", cfg.Session.JoinURL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "negative limit", mutate: func(c *Config) { c.Session.TimeLimitSeconds = -1 }, wantErr: true},
		{name: "negative attempts", mutate: func(c *Config) { c.Session.PinAttempts = -3 }, wantErr: true},
		{name: "unknown tie policy", mutate: func(c *Config) { c.Session.TiePolicy = "coin_flip" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "redis ttl", mutate: func(c *Config) { c.Redis.TTL = "6h" }},
		{name: "malformed redis ttl", mutate: func(c *Config) { c.Redis.TTL = "6hh" }, wantErr: true},
		{name: "malformed quiz ttl", mutate: func(c *Config) { c.Quiz.TTL = "ten minutes" }, wantErr: true},
		{name: "non-positive quiz ttl", mutate: func(c *Config) { c.Quiz.TTL = "0s" }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	var cfg Config
	if level, _ := cfg.LogLevel(); level != slog.LevelInfo {
		t.Fatalf("expected info by default, got %v", level)
	}
	cfg.Log.Level = "debug"
	if level, _ := cfg.LogLevel(); level != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", level)
	}
	if TTLDuration("garbage", time.Second) != time.Second {
		t.Fatalf("expected fallback for unparsable duration")
	}
}
