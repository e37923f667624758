package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the default slog logger based on LOG_LEVEL environment variable.
// Supported levels: debug, info, warn/warning, error. Defaults to info.
func InitLogging() {
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}

	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Log to stderr: stdout carries the arrival snapshots and must stay
	// clean for braille and console readers.
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
