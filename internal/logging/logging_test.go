package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	var out bytes.Buffer
	logger, err := newLogger(Config{Level: "warn", Format: "json"}, &out)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := newLogger(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = newLogger(Config{Format: "xml"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "broker.log")

	logger, err := newLogger(Config{File: path, NoConsole: true, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
	assert.Empty(t, console.String())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
