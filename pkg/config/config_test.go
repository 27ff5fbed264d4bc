package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.PingInterval)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, []string{"device-commands"}, cfg.Kafka.Topics)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "fleethub", cfg.Metrics.Namespace)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  port: 9090\nhub:\n  pingInterval: 5s\nlogger:\n  level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("FLEETHUB_LOGGER_FORMAT", "console")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Hub.PingInterval)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Store: StoreConfig{Driver: "postgres"},
		Hub:   HubConfig{PingInterval: time.Second},
	}
	assert.Error(t, cfg.Validate())

	cfg.Store.DSN = "postgres://localhost/fleet"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "sqlite"
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&LoggerConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(&LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(&LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
