package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Info("Test", "hello %s", "world")
	if !strings.Contains(buf.String(), "hello world") {
		t.Errorf("expected info output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "subsystem=Test") {
		t.Errorf("expected subsystem attribute, got %q", buf.String())
	}

	// Below the filter level: suppressed.
	buf.Reset()
	Debug("Test", "invisible")
	if buf.Len() != 0 {
		t.Errorf("debug output should be suppressed at info level, got %q", buf.String())
	}
}

func TestErrorAttachesError(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Controller", errors.New("boom"), "start failed")
	out := buf.String()
	if !strings.Contains(out, "start failed") || !strings.Contains(out, "boom") {
		t.Errorf("expected error output with cause, got %q", out)
	}
}
