package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("BROKER_ADDR", ":9999")

	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr, "process environment must be ignored")
	assert.Empty(t, cfg.AdminAddr)
	assert.Equal(t, 1024, cfg.ReadBufferSize)
	assert.Equal(t, 65536, cfg.WriteBufferSize)
	assert.Equal(t, 1024, cfg.OutboundDepth)
	assert.True(t, cfg.NoDelay)
	assert.True(t, cfg.LogConnections)
	assert.Zero(t, cfg.StatsInterval)
	assert.Equal(t, time.Second, cfg.CloseLinger)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"zero read buffer", func(c *Config) { c.ReadBufferSize = 0 }},
		{"negative write buffer", func(c *Config) { c.WriteBufferSize = -1 }},
		{"zero outbound depth", func(c *Config) { c.OutboundDepth = 0 }},
		{"negative stats interval", func(c *Config) { c.StatsInterval = -time.Second }},
		{"negative linger", func(c *Config) { c.CloseLinger = -time.Second }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("BROKER_ADDR", "127.0.0.1:7000")
	t.Setenv("BROKER_READ_BUFFER", "64")
	t.Setenv("BROKER_STATS_INTERVAL", "30s")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, 64, cfg.ReadBufferSize)
	assert.Equal(t, 30*time.Second, cfg.StatsInterval)
}

func TestLoadConfigFromDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.env")
	require.NoError(t, os.WriteFile(path, []byte("BROKER_ADMIN_ADDR=127.0.0.1:7001\nBROKER_OUT_DEPTH=16\n"), 0o600))

	// godotenv never overrides variables that are already set.
	t.Setenv("BROKER_OUT_DEPTH", "32")
	t.Setenv("BROKER_ADMIN_ADDR", "")
	require.NoError(t, os.Unsetenv("BROKER_ADMIN_ADDR"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.AdminAddr)
	assert.Equal(t, 32, cfg.OutboundDepth)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("BROKER_READ_BUFFER", "0")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("BROKER_READ_BUFFER", "lots")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
