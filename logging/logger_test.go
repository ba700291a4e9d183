package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"":        LogLevelInfo,
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestStructuredLogger_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	scoped := l.WithComponent("store").WithSession("app", "u1", "s1").WithContext("backend", "memory")
	scoped.Info("appended", "events", 3)
	l.Debug("base")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "appended", lines[0]["msg"])
	assert.Equal(t, "store", lines[0]["component"])
	assert.Equal(t, "s1", lines[0]["session_id"])
	assert.Equal(t, "memory", lines[0]["backend"])
	assert.EqualValues(t, 3, lines[0]["events"])

	_, ok := lines[1]["component"]
	assert.False(t, ok, "With* must not mutate the parent logger")
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "json", Output: &buf})
	l.Info("hidden")
	l.Warn("shown")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestLogStoreOp(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})
	expected := errors.New("not found")
	isExpected := func(err error) bool { return errors.Is(err, expected) }

	LogStoreOp(l, "memory", "get", time.Millisecond, nil, isExpected)
	LogStoreOp(l, "memory", "get", time.Millisecond, expected, isExpected)
	LogStoreOp(l, "sqlite", "append", time.Millisecond, errors.New("disk"), isExpected, "session_id", "s1")
	LogStoreOp(nil, "memory", "get", 0, nil, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "DEBUG", lines[1]["level"])
	assert.Equal(t, "store operation rejected", lines[1]["msg"])
	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "sqlite", lines[2]["backend"])
	assert.Equal(t, "s1", lines[2]["session_id"])
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() { l.Error("ignored", "k", "v") })
}
