// Package logging configures structured logging with slog.
//
// Text output uses tint for colored, human-readable lines; JSON output is
// meant for log shippers in production.
//
// Usage:
//
//	logger := logging.New("info", "text", os.Stderr)
//	slog.SetDefault(logger)
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds a logger. format is "text" (default) or "json"; level is
// debug, info, warn or error (default info).
func New(level, format string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
		AddSource:  lvl == slog.LevelDebug,
	}))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
