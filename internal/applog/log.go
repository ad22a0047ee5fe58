// Package applog builds the process-wide slog.Logger from SYNCKIT_LOG_LEVEL
// / SYNCKIT_LOG_FORMAT, grounded on cmd/td-sync/main.go's level/handler
// setup.
package applog

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a *slog.Logger writing to stderr. format is "json" (default)
// or "text"; level is one of debug/info/warn/error (default info).
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// FromEnv builds a logger from SYNCKIT_LOG_LEVEL / SYNCKIT_LOG_FORMAT,
// and installs it as slog's process-wide default.
func FromEnv() *slog.Logger {
	logger := New(os.Getenv("SYNCKIT_LOG_LEVEL"), os.Getenv("SYNCKIT_LOG_FORMAT"))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
