package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	cfg := loadFromString(t, `
store:
  driver: redis
  dsn: redis://localhost:6379/0
  key_prefix: feeds
  timeout: 2s
retention:
  max_age: 3d
  interval: 30m
  record_ttl: 72h
ingest:
  interval: 1h
  sources:
    - name: example
      url: https://news.example.com/rss
      category: tech
      enabled: true
    - name: paused
      url: https://other.example.com/rss
      category: money
server:
  addr: 127.0.0.1:9000
  page_size: 20
log:
  level: debug
  format: text
`)
	if cfg.Store.Driver != "redis" || cfg.Store.KeyPrefix != "feeds" {
		t.Errorf("store: %+v", cfg.Store)
	}
	if cfg.Store.Timeout.Std() != 2*time.Second {
		t.Errorf("store.timeout: got %v", cfg.Store.Timeout.Std())
	}
	if cfg.Retention.MaxAge.Std() != 72*time.Hour {
		t.Errorf("retention.max_age: got %v", cfg.Retention.MaxAge.Std())
	}
	if cfg.Retention.Interval.Std() != 30*time.Minute {
		t.Errorf("retention.interval: got %v", cfg.Retention.Interval.Std())
	}
	if got := cfg.EnabledSources(); len(got) != 1 || got[0].Name != "example" {
		t.Errorf("enabled sources: %+v", got)
	}
	if cfg.Server.PageSize != 20 || cfg.Server.MaxPageSize != DefaultMaxPageSize {
		t.Errorf("server: %+v", cfg.Server)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log.format: got %q", cfg.Log.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "{}\n")
	if cfg.Store.Driver != DefaultDriver || cfg.Store.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Retention.MaxAge.Std() != DefaultMaxAge {
		t.Errorf("default max_age: got %v", cfg.Retention.MaxAge.Std())
	}
	if cfg.Retention.RecordTTL.Std() != DefaultRecordTTL {
		t.Errorf("default record_ttl: got %v", cfg.Retention.RecordTTL.Std())
	}
	if cfg.Server.PageSize != DefaultPageSize {
		t.Errorf("default page_size: got %d", cfg.Server.PageSize)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"unknown driver", "store:\n  driver: mongo\n", "unknown driver"},
		{"postgres without dsn", "store:\n  driver: postgres\n", "store.dsn is required"},
		{"zero max age", "retention:\n  max_age: 0s\n", "max_age must be positive"},
		{"bad duration", "retention:\n  max_age: soon\n", "invalid duration"},
		{"bad log level", "log:\n  level: loud\n", "unknown level"},
		{"source without category", "ingest:\n  sources:\n    - name: x\n      url: https://x.example.com\n", "category is required"},
		{"source with ftp url", "ingest:\n  sources:\n    - name: x\n      url: ftp://x\n      category: c\n", "scheme"},
		{"max page below page", "server:\n  page_size: 50\n  max_page_size: 10\n", "max_page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadStringErr(t, tt.yaml)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"d", 0, true},
		{"", 0, true},
		{"week", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if tt.err {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error, got %v", tt.input, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
	}
}

func TestWatch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "retention:\n  max_age: 1d\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "retention:\n  max_age: not-a-duration\n")
	writeFile(t, path, "retention:\n  max_age: 2d\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Retention.MaxAge.Std() == 48*time.Hour {
				cancel()
				if err := <-errc; err != nil {
					t.Errorf("Watch: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no reload with the new max_age observed")
		}
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return Load(path)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
