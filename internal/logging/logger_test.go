package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	testCases := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &record))
		records = append(records, record)
	}
	return records
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	ctx := context.Background()
	logger.WithComponent("compiler").With("template", "Home/Index").
		Warn(ctx, errors.New("boom"), "compile failed", "depth", 3)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "WARN", records[0]["level"])
	assert.Equal(t, "compile failed", records[0]["msg"])
	assert.Equal(t, "compiler", records[0]["component"])
	assert.Equal(t, "Home/Index", records[0]["template"])
	assert.Equal(t, "boom", records[0]["error"])
	assert.Equal(t, float64(3), records[0]["depth"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, nil, "shown")
	logger.Error(ctx, nil, "shown")

	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestWithDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	_ = base.With("request", "a")
	base.Info(context.Background(), "plain")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	_, ok := records[0]["request"]
	assert.False(t, ok)
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	op := StartOperation(logger, "compile_all")
	op.End(context.Background(), "templates", 4)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "compile_all", records[0]["operation"])
	assert.Equal(t, float64(4), records[0]["templates"])
	assert.Contains(t, records[0], "duration_ms")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "ignored")
		logger.Error(context.Background(), errors.New("x"), "ignored")
	})
}
