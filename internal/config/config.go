// Package config loads application settings from an optional YAML file,
// PLACEDEX_* environment variables, and built-in defaults, in that order
// of increasing precedence for env over file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the record store.
type DatabaseConfig struct {
	// Path to the SQLite database file.
	Path string `mapstructure:"path"`

	// OpTimeout bounds a single statement.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// CacheConfig configures the spreadsheet cache file.
type CacheConfig struct {
	// Enabled turns the cache mirror on or off entirely.
	Enabled bool `mapstructure:"enabled"`

	// Path to the workbook file.
	Path string `mapstructure:"path"`

	// Sheet name holding the place rows.
	Sheet string `mapstructure:"sheet"`

	// BackupCount is how many previous copies to keep (0 disables).
	BackupCount int `mapstructure:"backup_count"`

	// LockTimeout bounds the wait for the single-writer lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// SyncConfig configures the freshness policy.
type SyncConfig struct {
	// FastMode prefers cache reads when the cache is current.
	FastMode bool `mapstructure:"fast_mode"`

	// StalenessThreshold is the maximum age of a successful sync before
	// fast-mode reads fall back to the record store (0 = no age limit).
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Path of the log file; empty logs to stderr only.
	Path string `mapstructure:"path"`

	// MaxSizeMB and MaxBackups control log file rotation.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// Load reads configuration. When file is empty, "placedex.yaml" in the
// working directory is used if present; a missing default file is fine,
// a missing explicit file is an error.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.path", "data/placedex.db")
	v.SetDefault("database.op_timeout", 10*time.Second)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "data/places.xlsx")
	v.SetDefault("cache.sheet", "Places")
	v.SetDefault("cache.backup_count", 5)
	v.SetDefault("cache.lock_timeout", 10*time.Second)
	v.SetDefault("sync.fast_mode", false)
	v.SetDefault("sync.staleness_threshold", 5*time.Minute)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)

	v.SetEnvPrefix("PLACEDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("placedex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
