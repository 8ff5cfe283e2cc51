package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SS8816/rulequery/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel}, // default
		{"", InfoLevel},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{
		level:  InfoLevel,
		format: "text",
		output: &buf,
		fields: make(map[string]interface{}),
	}

	logger.WithField("stage", "generate").Info("sql generated")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "sql generated")
	assert.Contains(t, out, "stage=generate")
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{
		level:  DebugLevel,
		format: "json",
		output: &buf,
		fields: make(map[string]interface{}),
	}

	logger.WithField("attempt", 2).ErrorWithErr("execution failed", errors.New("boom"))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "execution failed", entry.Message)
	assert.Equal(t, "boom", entry.Error)
	assert.EqualValues(t, 2, entry.Fields["attempt"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{
		level:  WarnLevel,
		format: "text",
		output: &buf,
		fields: make(map[string]interface{}),
	}

	logger.Debug("not shown")
	logger.Info("not shown either")
	logger.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "info", Format: "text", Output: "pigeon"})
	assert.Error(t, err)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := &Logger{
		level:  InfoLevel,
		format: "text",
		output: &buf,
		fields: make(map[string]interface{}),
	}

	child := parent.WithFields(map[string]interface{}{"rule": "WBL039"})
	assert.Empty(t, parent.fields)
	assert.Equal(t, "WBL039", child.fields["rule"])
}
