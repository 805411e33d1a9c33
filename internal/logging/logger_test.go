package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{input: "debug", want: LevelDebug},
		{input: "INFO", want: LevelInfo},
		{input: "", want: LevelInfo},
		{input: "warning", want: LevelWarn},
		{input: "error", want: LevelError},
		{input: "loud", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHelpdeckLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("cache").
		With("generation", 3).
		Warn(context.Background(), errors.New("boom"), "render failed", "key", "abc")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "render failed", record["msg"])
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "cache", record["component"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "abc", record["key"])
	assert.EqualValues(t, 3, record["generation"])
}

func TestHelpdeckLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})

	logger.Debug(context.Background(), "hidden debug")
	logger.Info(context.Background(), "hidden info")
	logger.Warn(context.Background(), nil, "visible warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
}

func TestHelpdeckLogger_WithDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LevelInfo, Output: &buf})

	_ = base.With("request_id", "r-1")
	base.Info(context.Background(), "plain")

	assert.NotContains(t, buf.String(), "r-1")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "dropped")
	})
}

func TestNewFileLogger(t *testing.T) {
	tmpDir := t.TempDir()

	fileLogger, err := NewFileLogger(DefaultConfig(), tmpDir)
	require.NoError(t, err)

	fileLogger.Info(context.Background(), "written to file")
	require.NoError(t, fileLogger.Close())

	data, err := os.ReadFile(fileLogger.Path())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	op := StartOperation(logger, "render")
	op.End(context.Background(), "bytes", 10)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "render", record["operation"])
	assert.Contains(t, record, "duration_ms")
}
