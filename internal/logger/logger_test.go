package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{FatalLevel, "FATAL"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestStructuredLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, WarnLevel)

	log.Debug("debug message")
	assert.Empty(t, buf.String())

	log.Info("info message")
	assert.Empty(t, buf.String())

	log.Warn("warn message")
	assert.NotEmpty(t, buf.String())
}

func TestStructuredLoggerEmitsFieldsAsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, InfoLevel)

	log.Info("peer connected",
		String("peer", "node-1"),
		Int("endpoints", 2),
		Bool("authorized", true),
		Duration("elapsed", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "peer connected", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "node-1", entry["peer"])
	assert.Equal(t, float64(2), entry["endpoints"])
	assert.Equal(t, true, entry["authorized"])
	assert.Equal(t, "1.5s", entry["elapsed"])
	assert.Equal(t, "boom", entry["error"])
}

func TestErrorFieldIsNilSafe(t *testing.T) {
	f := Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestWithFieldsAccumulatesAcrossDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, InfoLevel)
	scoped := base.WithFields(String("component", "network")).WithFields(String("endpoint", "tcp-1"))

	scoped.Info("bound")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "network", entry["component"])
	assert.Equal(t, "tcp-1", entry["endpoint"])
}

func TestWithContextSurfacesTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, InfoLevel)
	ctx := WithTraceID(context.Background(), "trace-123")
	scoped := base.WithContext(ctx)

	scoped.Info("dispatched")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-123", entry["trace_id"])
}

func TestSetLevelAndGetLevelRoundTrip(t *testing.T) {
	log := NewLogger(&bytes.Buffer{}, InfoLevel)
	log.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, log.GetLevel())
}

func TestSetPrettyPrintProducesIndentedJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, InfoLevel)
	log.SetPrettyPrint(true)

	log.Info("hello")
	assert.Contains(t, buf.String(), "\n  ")
}

func TestCodedErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewCodedError(CodeInitializationFailure, "bind failed", cause).WithDetail("address", "127.0.0.1:9000")

	assert.Contains(t, err.Error(), CodeInitializationFailure)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "127.0.0.1:9000", err.Details["address"])
}

func TestCodedErrorWithoutCauseOmitsCausedBySuffix(t *testing.T) {
	err := NewCodedError(CodeBadRequest, "handler rejected request", nil)
	assert.NotContains(t, err.Error(), "caused by")
}
