package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pevans/sitefeed/cache"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvConfig      = "SITEFEED_CONFIG"
	EnvOutDir      = "SITEFEED_OUT_DIR"
	EnvStateDSN    = "SITEFEED_STATE_DSN"
	EnvConcurrency = "SITEFEED_CONCURRENCY"
	EnvCacheAddr   = "SITEFEED_CACHE_ADDR"
	EnvListenAddr  = "SITEFEED_LISTEN_ADDR"
	EnvSchedule    = "SITEFEED_SCHEDULE"
)

// LoadConfigFile loads configuration from path. Returns nil if the file
// doesn't exist (not an error). Returns error if the file exists but cannot
// be parsed.
func LoadConfigFile(path string) (*Config, error) {
	// Check if file exists
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil // File doesn't exist -- not an error
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// ConfigPath returns the config file path: the explicit path if given,
// then SITEFEED_CONFIG, then the default.
func ConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return getEnv(EnvConfig, DefaultConfigPath)
}

// Load builds the configuration with env > file > default precedence and
// validates it. An explicitly named file must exist; the default file is
// optional.
func Load(explicit string) (*Config, error) {
	path := ConfigPath(explicit)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		if explicit != "" || os.Getenv(EnvConfig) != "" {
			return nil, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
		}
		cfg = &Config{}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	c.Output.Dir = getEnv(EnvOutDir, c.Output.Dir)
	c.State.DSN = getEnv(EnvStateDSN, c.State.DSN)
	c.Server.Addr = getEnv(EnvListenAddr, c.Server.Addr)
	c.Server.Schedule = getEnv(EnvSchedule, c.Server.Schedule)

	if addr := os.Getenv(EnvCacheAddr); addr != "" {
		c.Cache.Addr = addr
		if c.Cache.Type == "" {
			c.Cache.Type = cache.TypeRedis
		}
	}

	if raw := os.Getenv(EnvConcurrency); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvConcurrency, err)
		}
		c.Runner.Concurrency = n
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
