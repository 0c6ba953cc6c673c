package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thejuampi/minibroker/broker"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSettings(t *testing.T, args ...string) (settings, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "brokerd"}
	var flags cliFlags
	bindFlags(cmd, &flags)

	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...)
	require.NoError(t, cmd.ParseFlags(args))
	return loadSettings(cmd, flags)
}

func TestSettingsFromEnvironment(t *testing.T) {
	t.Setenv("BROKER_ADDR", "127.0.0.1:7000")
	t.Setenv("BROKER_OUT_DEPTH", "64")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := parseSettings(t)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Broker.Addr)
	assert.Equal(t, 64, cfg.Broker.OutboundDepth)
	assert.Equal(t, 1024, cfg.Broker.ReadBufferSize)
	assert.True(t, cfg.Broker.NoDelay)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("BROKER_ADDR", "127.0.0.1:7000")
	t.Setenv("BROKER_NODELAY", "true")

	cfg, err := parseSettings(t,
		"--addr", "127.0.0.1:7100",
		"--admin", "127.0.0.1:7101",
		"--nodelay=false",
		"--stats-interval", "10s",
		"--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7100", cfg.Broker.Addr)
	assert.Equal(t, "127.0.0.1:7101", cfg.Broker.AdminAddr)
	assert.False(t, cfg.Broker.NoDelay)
	assert.Equal(t, 10*time.Second, cfg.Broker.StatsInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestInvalidFlagValueRejected(t *testing.T) {
	_, err := parseSettings(t, "--out-depth", "0")
	assert.ErrorIs(t, err, broker.ErrInvalidConfig)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	cfg, err := parseSettings(t, "--addr", "127.0.0.1:0", "--log-level", "error")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg))
}

func TestRunRejectsBadLogFormat(t *testing.T) {
	cfg, err := parseSettings(t, "--addr", "127.0.0.1:0", "--log-format", "xml")
	require.NoError(t, err)
	assert.Error(t, run(context.Background(), cfg))
}
