// Package config loads the newsdex YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDriver          = "sqlite"
	DefaultKeyPrefix       = "news"
	DefaultStoreTimeout    = 5 * time.Second
	DefaultMaxAge          = 7 * 24 * time.Hour
	DefaultSweepInterval   = time.Hour
	DefaultRecordTTL       = 7 * 24 * time.Hour
	DefaultIngestInterval  = 30 * time.Minute
	DefaultAddr            = ":8080"
	DefaultPageSize        = 30
	DefaultMaxPageSize     = 200
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultRequestDeadline = 30 * time.Second
)

// Config is the top-level configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Retention RetentionConfig `yaml:"retention"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	// Driver is one of: sqlite | postgres | redis.
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres and a
	// redis:// URL for redis. Empty sqlite DSN means the XDG data dir.
	DSN string `yaml:"dsn"`

	// KeyPrefix namespaces every key the index writes.
	KeyPrefix string `yaml:"key_prefix"`

	// Timeout bounds each store round-trip.
	Timeout Duration `yaml:"timeout"`
}

// RetentionConfig controls the sweeper and record expiry.
type RetentionConfig struct {
	MaxAge    Duration `yaml:"max_age"`
	Interval  Duration `yaml:"interval"`
	RecordTTL Duration `yaml:"record_ttl"`
}

// IngestConfig lists the feeds the poller pulls.
type IngestConfig struct {
	Interval Duration `yaml:"interval"`

	// Concurrency overrides the backend-derived fan-out when positive.
	Concurrency int      `yaml:"concurrency"`
	Sources     []Source `yaml:"sources"`
}

// Source is one feed.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Enabled  bool   `yaml:"enabled"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	PageSize    int      `yaml:"page_size"`
	MaxPageSize int      `yaml:"max_page_size"`
	Title       string   `yaml:"title"`
	Deadline    Duration `yaml:"request_deadline"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Duration is a time.Duration that also accepts whole days ("7d") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ParseDuration parses Go duration syntax plus "Nd" for N days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// EnabledSources returns the sources with enabled: true.
func (c *Config) EnabledSources() []Source {
	var out []Source
	for _, s := range c.Ingest.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// DefaultConfigPath is the config file used when none is given.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "newsdex", "config.yaml")
}

// DefaultDataPath is the SQLite database used when store.dsn is empty.
func DefaultDataPath() string {
	return filepath.Join(xdg.DataHome, "newsdex", "newsdex.db")
}

// Load reads and parses the YAML config file at path. A missing file at the
// default path yields the defaults; a missing explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:    DefaultDriver,
			KeyPrefix: DefaultKeyPrefix,
			Timeout:   Duration(DefaultStoreTimeout),
		},
		Retention: RetentionConfig{
			MaxAge:    Duration(DefaultMaxAge),
			Interval:  Duration(DefaultSweepInterval),
			RecordTTL: Duration(DefaultRecordTTL),
		},
		Ingest: IngestConfig{
			Interval: Duration(DefaultIngestInterval),
		},
		Server: ServerConfig{
			Addr:        DefaultAddr,
			PageSize:    DefaultPageSize,
			MaxPageSize: DefaultMaxPageSize,
			Title:       "newsdex",
			Deadline:    Duration(DefaultRequestDeadline),
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite":
	case "postgres", "redis":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q (valid: sqlite, postgres, redis)", cfg.Store.Driver)
	}
	if cfg.Store.Timeout < 0 {
		return fmt.Errorf("store.timeout must not be negative")
	}
	if cfg.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive")
	}
	if cfg.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive")
	}
	if cfg.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be positive")
	}
	if cfg.Server.PageSize < 1 {
		return fmt.Errorf("server.page_size must be at least 1")
	}
	if cfg.Server.MaxPageSize < cfg.Server.PageSize {
		return fmt.Errorf("server.max_page_size must be at least server.page_size")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	for i, s := range cfg.Ingest.Sources {
		if s.Name == "" {
			return fmt.Errorf("ingest.sources[%d]: name is required", i)
		}
		if s.Category == "" {
			return fmt.Errorf("source %q: category is required", s.Name)
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("source %q: invalid url: %w", s.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source %q: url scheme must be http or https, got %q", s.Name, u.Scheme)
		}
	}
	return nil
}
