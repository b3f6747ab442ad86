package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/config"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", CorrelationHeader: "X-Request-ID"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("ready")
	require.Contains(t, buf.String(), "component=swkit")
	require.Contains(t, buf.String(), "msg=ready")
}

func TestLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swkit.log")
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{
		Level: "debug",
		File:  config.LoggingFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
	}, &buf)
	require.NoError(t, err)

	logger.Debug("cache opened", "cache", "one-cache")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"cache opened"`)
	require.Contains(t, buf.String(), `"msg":"cache opened"`)
}
