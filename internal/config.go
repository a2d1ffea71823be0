package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the config file
const (
	EnvAddress       = "SOCKDEBUG_ADDRESS"
	EnvContext       = "SOCKDEBUG_CONTEXT"
	EnvStorageDriver = "SOCKDEBUG_STORAGE_DRIVER"
	EnvStoragePath   = "SOCKDEBUG_STORAGE_PATH"
	EnvRedisURL      = "SOCKDEBUG_REDIS_URL"
	EnvHistoryLimit  = "SOCKDEBUG_HISTORY_LIMIT"
	EnvLogLevel      = "SOCKDEBUG_LOG_LEVEL"
	EnvMetricsAddr   = "SOCKDEBUG_METRICS_ADDR"
)

// Config holds all configuration for the client
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Separator SeparatorConfig `yaml:"separator" toml:"separator"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig locates the debug server
type ServerConfig struct {
	Address     string `yaml:"address" toml:"address"`
	Context     string `yaml:"context" toml:"context"`
	Secure      bool   `yaml:"secure" toml:"secure"`
	DialRetries int    `yaml:"dial_retries" toml:"dial_retries"`
}

// StorageConfig selects the history backend
type StorageConfig struct {
	Driver       string `yaml:"driver" toml:"driver"`
	Path         string `yaml:"path" toml:"path"`
	RedisURL     string `yaml:"redis_url" toml:"redis_url"`
	HistoryLimit int    `yaml:"history_limit" toml:"history_limit"`
}

// SeparatorConfig holds the separator thresholds as duration strings
type SeparatorConfig struct {
	LongGap     string `yaml:"long_gap" toml:"long_gap"`
	ShortGap    string `yaml:"short_gap" toml:"short_gap"`
	MinMessages int    `yaml:"min_messages" toml:"min_messages"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// DataDir returns the directory holding the default config and history database
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sockdebug"
	}
	return filepath.Join(home, ".sockdebug")
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:     "localhost:9080",
			Context:     "/debug",
			DialRetries: 3,
		},
		Storage: StorageConfig{
			Driver:       DriverSQLite,
			Path:         filepath.Join(DataDir(), "history.db"),
			HistoryLimit: DefaultHistoryLimit,
		},
		Separator: SeparatorConfig{
			LongGap:     "50m",
			ShortGap:    "1m",
			MinMessages: 3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads path (YAML or TOML by extension) over the defaults, then
// applies .env and environment overrides. An empty path loads the default
// config file if it exists.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(DataDir(), "config.yaml")
	}
	if err := decodeConfigFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, &ConfigError{Path: path, Err: err}
		}
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse toml: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse yaml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s (supported: yaml, toml)", filepath.Ext(path))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv(EnvContext); v != "" {
		cfg.Server.Context = v
	}
	if v := os.Getenv(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv(EnvHistoryLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.HistoryLimit = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
}

// Validate checks the config for values the client cannot work with
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	switch c.Storage.Driver {
	case "", DriverSQLite, DriverMemory:
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.HistoryLimit < 0 {
		return fmt.Errorf("storage.history_limit must not be negative")
	}
	if _, err := c.SeparatorPolicy(); err != nil {
		return err
	}
	return nil
}

// SeparatorPolicy parses the separator section, filling blanks with defaults
func (c Config) SeparatorPolicy() (SeparatorPolicy, error) {
	p := DefaultSeparatorPolicy()
	if c.Separator.LongGap != "" {
		d, err := time.ParseDuration(c.Separator.LongGap)
		if err != nil {
			return p, fmt.Errorf("separator.long_gap: %w", err)
		}
		p.LongGap = d
	}
	if c.Separator.ShortGap != "" {
		d, err := time.ParseDuration(c.Separator.ShortGap)
		if err != nil {
			return p, fmt.Errorf("separator.short_gap: %w", err)
		}
		p.ShortGap = d
	}
	if c.Separator.MinMessages > 0 {
		p.MinMessages = c.Separator.MinMessages
	}
	if p.ShortGap > p.LongGap {
		return p, fmt.Errorf("separator.short_gap (%s) exceeds long_gap (%s)", p.ShortGap, p.LongGap)
	}
	return p, nil
}

// ServerURL returns the websocket URL of the debug server
func (c Config) ServerURL() string {
	scheme := "ws"
	if c.Server.Secure {
		scheme = "wss"
	}
	ctxPath := c.Server.Context
	if ctxPath == "" {
		ctxPath = "/"
	} else if !strings.HasPrefix(ctxPath, "/") {
		ctxPath = "/" + ctxPath
	}
	u := url.URL{Scheme: scheme, Host: c.Server.Address, Path: ctxPath}
	return u.String()
}
