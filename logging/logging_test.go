package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/throttle/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "INFO", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "Error", expected: slog.LevelError},
		{input: "verbose", expectErr: true},
		{input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestSetup_StdStreams(t *testing.T) {
	for _, output := range []string{"stdout", "stderr"} {
		logger, closer, err := Setup(config.LoggingConfig{Level: "info", Format: "json", Output: output})
		require.NoError(t, err, output)
		assert.NotNil(t, logger)
		assert.Nil(t, closer, "no closer for %s", output)
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "throttle.log")

	logger, closer, err := Setup(config.LoggingConfig{Level: "warn", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("dropped")
	logger.Warn("backend unavailable", "limiter", "otp-request")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "backend unavailable", entry["msg"])
	assert.Equal(t, "otp-request", entry["limiter"])
	assert.Equal(t, "throttle", entry["service"])
}

func TestSetup_Errors(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "loud", Output: "stdout"})
	assert.Error(t, err)

	_, _, err = Setup(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)

	_, _, err = Setup(config.LoggingConfig{Level: "info", Output: "file", FilePath: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug, "text")
	logger.Debug("registered rate limiter", "limiter", "class-join")

	assert.Contains(t, buf.String(), "registered rate limiter")
	assert.Contains(t, buf.String(), "limiter=class-join")
}
