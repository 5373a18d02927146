// Package config defines the service configuration and loads it from a YAML
// file and FLEETFINANCE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "FLEETFINANCE"

// Configuration holds all configuration for the fleetfinance API.
type Configuration struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	VehicleLookup VehicleLookupConfig `mapstructure:"vehicleLookup"`
}

type ServerConfig struct {
	Address       string        `mapstructure:"address"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"` // How often matured contracts are closed; 0 disables
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or postgres
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error
	Format     string `mapstructure:"format"`     // json, console
	OutputFile string `mapstructure:"outputFile"` // optional file output
}

type VehicleLookupConfig struct {
	BaseURL   string        `mapstructure:"baseURL"`
	APIKey    string        `mapstructure:"apiKey"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cacheTTL"`
	RedisAddr string        `mapstructure:"redisAddr"` // Empty uses an in-process cache
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.sweepInterval", time.Hour)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "fleetfinance.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputFile", "")
	v.SetDefault("vehicleLookup.baseURL", "https://uk1.ukvehicledata.co.uk/api/datapackage/VehicleData")
	v.SetDefault("vehicleLookup.apiKey", "")
	v.SetDefault("vehicleLookup.timeout", 10*time.Second)
	v.SetDefault("vehicleLookup.cacheTTL", 24*time.Hour)
	v.SetDefault("vehicleLookup.redisAddr", "")
}

// LoadConfiguration loads the YAML configuration at configPath, layered over
// defaults and under environment overrides such as FLEETFINANCE_DATABASE_DSN.
// An empty configPath uses defaults and the environment only.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %s", err)
		}
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	return &configuration, nil
}

func (c *Configuration) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.SweepInterval < 0 {
		return fmt.Errorf("server.sweepInterval cannot be negative")
	}
	return nil
}

// NewLogger builds a zap logger from the logging configuration. A non-empty
// levelOverride takes precedence over the configured level.
func NewLogger(loggingConfig LoggingConfig, levelOverride string) (*zap.Logger, error) {
	level := loggingConfig.Level
	if levelOverride != "" {
		level = levelOverride
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	format := loggingConfig.Format
	if format == "" {
		format = "json"
	}

	var config zap.Config
	switch format {
	case "console":
		config = zap.NewDevelopmentConfig()
	case "json":
		config = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	if loggingConfig.OutputFile != "" {
		if dir := filepath.Dir(loggingConfig.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
			}
		}
		file, err := os.OpenFile(loggingConfig.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %v", loggingConfig.OutputFile, err)
		}
		_ = file.Close()

		config.OutputPaths = []string{loggingConfig.OutputFile}
		config.ErrorOutputPaths = []string{loggingConfig.OutputFile}
	}

	return config.Build()
}
