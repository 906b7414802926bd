package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New constructs a text logger writing to stderr with the level taken from
// SITEFEED_LOG_LEVEL, or LOG_LEVEL when that is unset.
func New(service string) *slog.Logger {
	return NewWithWriter(os.Stderr, service)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, service string) *slog.Logger {
	raw := os.Getenv("SITEFEED_LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(raw)})
	return slog.New(h).With("service", service)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
