// Package config handles configuration loading and management for relay.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Storage backend names.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// EnvPrefix is prepended to every environment override, e.g.
// RELAY_STORAGE_BACKEND=redis.
const EnvPrefix = "RELAY"

// Config holds all configuration for relay.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Inbox       InboxConfig       `mapstructure:"inbox" yaml:"inbox"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
}

// StorageConfig selects and configures the snapshot store.
type StorageConfig struct {
	// Backend is one of sqlite, memory, redis, postgres.
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the SQLite database file. The coordinator is always kept here.
	Path string `mapstructure:"path" yaml:"path"`
	// Driver is the database/sql driver for SQLite: sqlite or sqlite3.
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	File        string `mapstructure:"file" yaml:"file"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// InboxConfig holds settings for the external state inbox.
type InboxConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// MetricsConfig holds Prometheus settings. Addr is the scrape endpoint served
// by watch; PushURL is a Pushgateway that one-shot task commands report to.
// Empty values disable each.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	PushURL string `mapstructure:"push_url" yaml:"push_url"`
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// Load loads configuration from the standard locations.
// Order of precedence (highest to lowest):
// 1. Environment variables (RELAY_*)
// 2. Project config (.relay.yaml in current directory or parents)
// 3. User config ($XDG_CONFIG_HOME/relay/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file path, with
// environment overrides still applied.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Storage.Postgres.DSN = os.ExpandEnv(cfg.Storage.Postgres.DSN)
	cfg.Storage.Redis.Password = os.ExpandEnv(cfg.Storage.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}
	if c.Inbox.Concurrency < 1 {
		return fmt.Errorf("inbox.concurrency must be at least 1, got %d", c.Inbox.Concurrency)
	}
	return nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(GetUserConfigPath())

	v.Set("storage.backend", cfg.Storage.Backend)
	v.Set("storage.path", cfg.Storage.Path)
	v.Set("storage.driver", cfg.Storage.Driver)
	v.Set("storage.redis.addr", cfg.Storage.Redis.Addr)
	v.Set("storage.redis.password", cfg.Storage.Redis.Password)
	v.Set("storage.redis.db", cfg.Storage.Redis.DB)
	v.Set("storage.redis.key_prefix", cfg.Storage.Redis.KeyPrefix)
	v.Set("storage.postgres.dsn", cfg.Storage.Postgres.DSN)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)
	v.Set("log.development", cfg.Log.Development)
	v.Set("inbox.dir", cfg.Inbox.Dir)
	v.Set("inbox.concurrency", cfg.Inbox.Concurrency)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("metrics.push_url", cfg.Metrics.PushURL)
	v.Set("coordinator.name", cfg.Coordinator.Name)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if found.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.redis.addr", d.Storage.Redis.Addr)
	v.SetDefault("storage.redis.password", d.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", d.Storage.Redis.DB)
	v.SetDefault("storage.redis.key_prefix", d.Storage.Redis.KeyPrefix)
	v.SetDefault("storage.postgres.dsn", d.Storage.Postgres.DSN)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("inbox.concurrency", d.Inbox.Concurrency)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.push_url", d.Metrics.PushURL)

	v.SetDefault("coordinator.name", d.Coordinator.Name)
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".relay.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    filepath.Join(".relay", "state.db"),
			Driver:  "sqlite",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "relay:",
			},
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(".relay", "logs", "relay.log"),
		},
		Inbox: InboxConfig{
			Dir:         filepath.Join(".relay", "inbox"),
			Concurrency: 4,
		},
		Coordinator: CoordinatorConfig{
			Name: "Supervisor",
		},
	}
}
