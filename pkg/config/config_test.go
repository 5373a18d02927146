package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigurationDefaults(t *testing.T) {
	conf, err := LoadConfiguration("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.Server.Address)
	assert.Equal(t, time.Hour, conf.Server.SweepInterval)
	assert.Equal(t, "sqlite3", conf.Database.Driver)
	assert.Equal(t, "info", conf.Logging.Level)
	assert.Equal(t, 10*time.Second, conf.VehicleLookup.Timeout)
	assert.Equal(t, 24*time.Hour, conf.VehicleLookup.CacheTTL)
}

func TestLoadConfigurationFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  sweepInterval: 15m
database:
  driver: postgres
  dsn: postgres://localhost/fleet
logging:
  level: debug
  format: console
vehicleLookup:
  apiKey: from-file
  cacheTTL: 2h
`)
	t.Setenv("FLEETFINANCE_VEHICLELOOKUP_APIKEY", "from-env")

	conf, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", conf.Server.Address)
	assert.Equal(t, 15*time.Minute, conf.Server.SweepInterval)
	assert.Equal(t, "postgres", conf.Database.Driver)
	assert.Equal(t, "postgres://localhost/fleet", conf.Database.DSN)
	assert.Equal(t, "console", conf.Logging.Format)
	assert.Equal(t, "from-env", conf.VehicleLookup.APIKey)
	assert.Equal(t, 2*time.Hour, conf.VehicleLookup.CacheTTL)
}

func TestLoadConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nonexistent.yml")},
		{"bad driver", writeConfig(t, "database:\n  driver: mysql\n")},
		{"negative sweep", writeConfig(t, "server:\n  sweepInterval: -1m\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfiguration(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "console"}, "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel), "debug should be disabled")

	logger, err = NewLogger(LoggingConfig{Level: "warn"}, "debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "override should enable debug")

	path := filepath.Join(t.TempDir(), "logs", "api.log")
	logger, err = NewLogger(LoggingConfig{OutputFile: path}, "")
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	_, err = NewLogger(LoggingConfig{Level: "loud"}, "")
	assert.Error(t, err)
	_, err = NewLogger(LoggingConfig{Format: "xml"}, "")
	assert.Error(t, err)
}
