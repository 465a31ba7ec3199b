// Package logging provides structured logging for go-decoder-bench and
// line handling for the output of external collaborator commands.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// NewLoggerTo creates a structured logger writing to w. Format is "json"
// (default) or "text"; level is "debug", "info", "warn" or "error". verbose
// forces debug level and adds source locations.
//
// The TUI routes logs to a file (or io.Discard) through it so they do not
// corrupt the dashboard.
func NewLoggerTo(w io.Writer, format, level string, verbose bool) *slog.Logger {
	lvl := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel converts a level name to a slog.Level. Unknown names are info.
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

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
