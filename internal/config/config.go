package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"SERVER_PORT"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		TTL      string `yaml:"ttl" env:"REDIS_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"POSTGRES_URL"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL      string `yaml:"ttl" env:"QUIZ_TTL"`
		SeedFile string `yaml:"seed_file" env:"QUIZ_SEED_FILE"`
	} `yaml:"quiz"`
	Session struct {
		TimeLimitSeconds int    `yaml:"time_limit_seconds" env:"SESSION_TIME_LIMIT"`
		PinAttempts      int    `yaml:"pin_attempts" env:"SESSION_PIN_ATTEMPTS"`
		TiePolicy        string `yaml:"tie_policy" env:"SESSION_TIE_POLICY"`
		JoinURL          string `yaml:"join_url" env:"SESSION_JOIN_URL"`
	} `yaml:"session"`
}

// Load reads YAML config from path, then applies environment overrides. Variables from a
// .env file in the working directory are visible to the overrides. A missing config file
// is not an error, so env-only deployments work.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	if c.Session.TimeLimitSeconds < 0 {
		return fmt.Errorf("session.time_limit_seconds must not be negative, got %d", c.Session.TimeLimitSeconds)
	}
	if c.Session.PinAttempts < 0 {
		return fmt.Errorf("session.pin_attempts must not be negative, got %d", c.Session.PinAttempts)
	}
	switch c.Session.TiePolicy {
	case "", "join_order", "fastest", "shared":
	default:
		return fmt.Errorf("unknown session.tie_policy %q", c.Session.TiePolicy)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if err := validTTL("redis.ttl", c.Redis.TTL); err != nil {
		return err
	}
	if err := validTTL("quiz.ttl", c.Quiz.TTL); err != nil {
		return err
	}
	return nil
}

func validTTL(field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, raw)
	}
	return nil
}

// LogLevel parses log.level, defaulting to info.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// TTLDuration parses a duration string or returns the fallback if empty. Load has
// already rejected malformed values through Validate.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
