package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/scraper"
	"github.com/robfig/cron/v3"
)

// Defaults used when neither the file nor the environment set a value.
const (
	DefaultConfigPath       = "sitefeed.yaml"
	DefaultOutputDir        = "feeds"
	DefaultStateDSN         = "sitefeed.db"
	DefaultListenAddr       = ":8080"
	DefaultSchedule         = "0 * * * *"
	DefaultDelay            = 1500 * time.Millisecond
	DefaultFetchTimeout     = 30 * time.Second
	DefaultConcurrency      = 1
	DefaultFailureThreshold = 3
	DefaultCacheCapacity    = 4096
	DefaultCacheTTL         = 7 * 24 * time.Hour
	DefaultRetention        = "30d"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete sitefeed configuration.
type Config struct {
	Output  OutputConfig           `yaml:"output"`
	Fetch   FetchConfig            `yaml:"fetch"`
	Runner  RunnerConfig           `yaml:"runner"`
	State   StateConfig            `yaml:"state"`
	Cache   CacheConfig            `yaml:"cache"`
	Server  ServerConfig           `yaml:"server"`
	Sources []scraper.SourceConfig `yaml:"sources"`
}

// OutputConfig says where feed files and the run report are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// FetchConfig holds the defaults of the page fetcher. Sources may override
// retry and timeout.
type FetchConfig struct {
	UserAgent      string              `yaml:"user_agent,omitempty"`
	AcceptLanguage string              `yaml:"accept_language,omitempty"`
	Timeout        time.Duration       `yaml:"timeout,omitempty"`
	Delay          time.Duration       `yaml:"delay,omitempty"`
	Retry          scraper.RetryConfig `yaml:"retry,omitempty"`
}

// RunnerConfig controls how sources are scheduled within one run.
type RunnerConfig struct {
	Concurrency      int           `yaml:"concurrency,omitempty"`
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	SourceDeadline   time.Duration `yaml:"source_deadline,omitempty"`
}

// StateConfig locates the SQLite run history.
type StateConfig struct {
	DSN string `yaml:"dsn"`
	// Retention is how long run history is kept, e.g. "30d" or "2w".
	Retention string `yaml:"retention,omitempty"`
}

// CacheConfig selects the enrichment date cache.
type CacheConfig struct {
	Type     string        `yaml:"type,omitempty"`
	Addr     string        `yaml:"addr,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
	Capacity int           `yaml:"capacity,omitempty"`
}

// ServerConfig configures `sitefeed serve`.
type ServerConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Schedule string `yaml:"schedule,omitempty"`
}

// Default returns a configuration with every default applied and no
// sources.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields, including those of every source.
func (c *Config) ApplyDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = DefaultFetchTimeout
	}
	if c.Fetch.Delay == 0 {
		c.Fetch.Delay = DefaultDelay
	}
	if c.Fetch.Retry.Attempts == 0 {
		c.Fetch.Retry.Attempts = 1
	}
	if c.Runner.Concurrency == 0 {
		c.Runner.Concurrency = DefaultConcurrency
	}
	if c.Runner.FailureThreshold == 0 {
		c.Runner.FailureThreshold = DefaultFailureThreshold
	}
	if c.State.DSN == "" {
		c.State.DSN = DefaultStateDSN
	}
	if c.State.Retention == "" {
		c.State.Retention = DefaultRetention
	}
	if c.Cache.Type == "" {
		c.Cache.Type = cache.TypeMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultListenAddr
	}
	if c.Server.Schedule == "" {
		c.Server.Schedule = DefaultSchedule
	}
	for i := range c.Sources {
		src := &c.Sources[i]
		// Sources inherit the fetch retry policy unless they set their own.
		if src.Retry.Attempts == 0 {
			src.Retry.Attempts = c.Fetch.Retry.Attempts
		}
		if src.Retry.Backoff == 0 {
			src.Retry.Backoff = c.Fetch.Retry.Backoff
		}
		src.ApplyDefaults()
	}
}

// Validate checks the configuration and every source in it.
func (c *Config) Validate() error {
	if c.Runner.Concurrency < 1 {
		return fmt.Errorf("%w: runner.concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.Runner.FailureThreshold < 1 {
		return fmt.Errorf("%w: runner.failure_threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Runner.SourceDeadline < 0 {
		return fmt.Errorf("%w: runner.source_deadline must not be negative", ErrInvalidConfig)
	}
	if c.Fetch.Timeout < 0 || c.Fetch.Delay < 0 {
		return fmt.Errorf("%w: fetch durations must not be negative", ErrInvalidConfig)
	}
	if c.Fetch.Retry.Attempts < 0 || c.Fetch.Retry.Backoff < 0 {
		return fmt.Errorf("%w: fetch.retry values must not be negative", ErrInvalidConfig)
	}

	switch c.Cache.Type {
	case cache.TypeMemory, cache.TypeNone:
	case cache.TypeRedis:
		if c.Cache.Addr == "" {
			return fmt.Errorf("%w: cache.addr is required for redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache.type %q", ErrInvalidConfig, c.Cache.Type)
	}

	if _, err := ParseDuration(c.State.Retention); err != nil {
		return fmt.Errorf("%w: state.retention: %v", ErrInvalidConfig, err)
	}
	if _, err := cron.ParseStandard(c.Server.Schedule); err != nil {
		return fmt.Errorf("%w: server.schedule: %v", ErrInvalidConfig, err)
	}

	if err := scraper.ValidateAll(c.Sources); err != nil {
		return fmt.Errorf("%w: source %v", ErrInvalidConfig, err)
	}
	return nil
}

// Select returns the sources named in names, in configuration order. An
// empty list selects every source.
func (c *Config) Select(names []string) ([]scraper.SourceConfig, error) {
	if len(names) == 0 {
		return c.Sources, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.TrimSpace(name)] = true
	}

	var selected []scraper.SourceConfig
	for _, src := range c.Sources {
		if wanted[src.Name] {
			selected = append(selected, src)
			delete(wanted, src.Name)
		}
	}

	if len(wanted) > 0 {
		var unknown []string
		for name := range wanted {
			unknown = append(unknown, name)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown source(s): %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

// ParseDuration extends time.ParseDuration to support 'd' (days) and 'w'
// (weeks)
func ParseDuration(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Handle days (d) and weeks (w)
	if strings.HasSuffix(s, "d") {
		days := s[:len(s)-1]
		var n int
		_, err := fmt.Sscanf(days, "%d", &n)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	if strings.HasSuffix(s, "w") {
		weeks := s[:len(s)-1]
		var n int
		_, err := fmt.Sscanf(weeks, "%d", &n)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}
