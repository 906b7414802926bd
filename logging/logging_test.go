package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_LevelFromEnv(t *testing.T) {
	t.Setenv("SITEFEED_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "warn")

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "runner")
	logger.Info("hidden")
	logger.Warn("shown", "source", "wired")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "service=runner")
	assert.Contains(t, out, "source=wired")
}

func TestNewWithWriter_SitefeedLevelWins(t *testing.T) {
	t.Setenv("SITEFEED_LOG_LEVEL", "debug")
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	NewWithWriter(&buf, "test").Debug("details")
	assert.Contains(t, buf.String(), "msg=details")
}
