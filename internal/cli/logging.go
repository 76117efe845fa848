package cli

import (
	"log/slog"
	"os"

	"live-quiz-service/internal/config"
)

// newLogger builds the process logger: JSON on stdout at the configured level.
func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}
