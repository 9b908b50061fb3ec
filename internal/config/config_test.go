package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: debug
engine:
  batch_size: 3
  browser: stealth
  inter_phase_delay: 30s
crawl:
  max_visits: 50
  follow_links: false
  queue_limit: 100
scraper:
  use_stealth: false
  timeout: 20s
  min_interval: 2s
  robots_agent: webcrawl
fetch:
  rate_limit_rps: 0.5
  rate_limit_burst: 2
headless:
  max_parallel: 2
  nav_timeout: 30s
sites:
  dir: /etc/webcrawl/sites
storage:
  backend: sqlite
  sqlite:
    path: /tmp/crawl.db
pubsub:
  project_id: proj
  topic: scans
progress:
  max_batch_wait: 1s
dispatcher:
  workers: 2
tracing:
  enabled: true
  sample_ratio: 0.25
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Engine.BatchSize != 3 || cfg.Engine.Browser != BrowserStealth || cfg.Engine.InterPhaseDelay != 30*time.Second {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Crawl.MaxVisits != 50 || cfg.Crawl.FollowLinks || cfg.Crawl.QueueLimit != 100 {
		t.Fatalf("expected crawl overrides, got %+v", cfg.Crawl)
	}
	if cfg.Crawl.ErrorLimit != crawl.DefaultParams().ErrorLimit {
		t.Fatalf("expected default error limit, got %d", cfg.Crawl.ErrorLimit)
	}
	if cfg.Scraper.UseStealth || cfg.Scraper.Timeout != 20*time.Second || cfg.Scraper.MinInterval != 2*time.Second {
		t.Fatalf("expected scraper overrides, got %+v", cfg.Scraper)
	}
	if cfg.Scraper.RobotsAgent != "webcrawl" {
		t.Fatalf("expected robots agent override, got %q", cfg.Scraper.RobotsAgent)
	}
	if cfg.Fetch.RateLimitRPS != 0.5 || cfg.Fetch.RateLimitBurst != 2 {
		t.Fatalf("expected fetch overrides, got %+v", cfg.Fetch)
	}
	if cfg.Headless.MaxParallel != 2 || cfg.Headless.NavTimeout != 30*time.Second {
		t.Fatalf("expected headless overrides, got %+v", cfg.Headless)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.SQLite.Path != "/tmp/crawl.db" {
		t.Fatalf("expected sqlite storage, got %+v", cfg.Storage)
	}
	if cfg.PubSub.Topic != "scans" || cfg.Progress.MaxBatchWait != time.Second {
		t.Fatalf("expected pubsub and progress overrides")
	}
	if cfg.Dispatcher.Workers != 2 || cfg.Dispatcher.QueueDepth != 64 {
		t.Fatalf("expected dispatcher overrides, got %+v", cfg.Dispatcher)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 0.25 || cfg.Tracing.ServiceName != "webcrawl-engine" {
		t.Fatalf("expected tracing overrides, got %+v", cfg.Tracing)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl != crawl.DefaultParams() {
		t.Fatalf("expected default crawl params, got %+v", cfg.Crawl)
	}
	if cfg.Engine.InterPhaseDelay != site.DefaultInterPhaseDelay {
		t.Fatalf("expected default inter-phase delay, got %v", cfg.Engine.InterPhaseDelay)
	}
	if cfg.Scraper.Timeout != 10*time.Second || !cfg.Scraper.UseStealth {
		t.Fatalf("expected default scraper settings, got %+v", cfg.Scraper)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Engine.Browser != BrowserNative {
		t.Fatalf("expected memory storage and native browser by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_SERVER_PORT", "7070")
	t.Setenv("CRAWLER_ENGINE_BROWSER", "none")
	t.Setenv("CRAWLER_CRAWL_MAX_VISITS", "9")
	t.Setenv("PORT", "6060")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Engine.Browser != BrowserNone || cfg.Crawl.MaxVisits != 9 {
		t.Fatalf("expected env overrides, got port=%d browser=%s visits=%d",
			cfg.Server.Port, cfg.Engine.Browser, cfg.Crawl.MaxVisits)
	}
}

func TestValidateBatchWithinTabLimit(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine.BatchSize = 5
	cfg.Scraper.Timeout = time.Second
	cfg.Engine.Browser = BrowserNative
	cfg.Headless.MaxParallel = 5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("batch equal to tab limit should validate, got %v", err)
	}
	cfg.Headless.MaxParallel = 0
	cfg.Engine.BatchSize = 50
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unlimited tabs should validate, got %v", err)
	}
	cfg.Engine.Browser = BrowserStealth
	cfg.Headless.MaxParallel = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("stealth browser has no tab limit, got %v", err)
	}
}

func TestLoadPortFromPlatformEnv(t *testing.T) {
	t.Setenv("PORT", "5050")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Fatalf("expected PORT to set server.port, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:     ServerConfig{Port: 8080},
		Engine:     EngineConfig{Browser: BrowserNone},
		Crawl:      crawl.DefaultParams(),
		Scraper:    ScraperConfig{},
		Fetch:      FetchConfig{Timeout: time.Second},
		Storage:    StorageConfig{Backend: BackendMemory},
		Dispatcher: DispatcherConfig{Workers: 1, QueueDepth: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := validConfig()
	base.Engine.BatchSize = 1
	base.Scraper.Timeout = time.Second

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid batch size", mutate: func(c *Config) { c.Engine.BatchSize = 0 }, want: "engine.batch_size"},
		{name: "unknown browser", mutate: func(c *Config) { c.Engine.Browser = "firefox" }, want: "engine.browser"},
		{name: "negative max visits", mutate: func(c *Config) { c.Crawl.MaxVisits = -1 }, want: "crawl.max_visits"},
		{name: "zero queue limit", mutate: func(c *Config) { c.Crawl.QueueLimit = 0 }, want: "crawl.queue_limit"},
		{name: "zero scraper timeout", mutate: func(c *Config) { c.Scraper.Timeout = 0 }, want: "scraper.timeout"},
		{name: "negative interval", mutate: func(c *Config) { c.Scraper.MinInterval = -time.Second }, want: "scraper intervals"},
		{name: "negative rps", mutate: func(c *Config) { c.Fetch.RateLimitRPS = -1 }, want: "fetch.rate_limit_rps"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "storage.postgres.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs.bucket"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "scans" }, want: "pubsub.project_id"},
		{name: "no workers", mutate: func(c *Config) { c.Dispatcher.Workers = 0 }, want: "dispatcher.workers"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, want: "tracing.sample_ratio"},
		{name: "batch wider than tab limit", mutate: func(c *Config) {
			c.Engine.Browser = BrowserNative
			c.Engine.BatchSize = 6
			c.Headless.MaxParallel = 5
		}, want: "engine.batch_size (6) must not exceed headless.max_parallel (5)"},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
