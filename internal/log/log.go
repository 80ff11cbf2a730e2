// Package log provides structured logging for go-sslteam.
// It wraps slog with a process-wide default and per-component loggers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel converts "debug", "info", "warn" or "error" to a slog level.
// Unknown values map to info.
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

// Init initializes the global logger with the specified level and format.
// Format is "text" or "json". JSON is also used when GO_ENV=production.
// Only the first call has an effect.
func Init(level, format string) {
	once.Do(func() {
		logger = New(os.Stderr, level, format)
		slog.SetDefault(logger)
	})
}

// New builds a logger writing to w without touching the global default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" || os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// L returns the global logger instance, initialising it at info level if
// Init has not been called.
func L() *slog.Logger {
	Init("info", "text")
	return logger
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Or returns l, or the named component logger when l is nil.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l.With("component", component)
	}
	return Component(component)
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}
