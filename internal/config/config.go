// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/engine"
	"github.com/JakeFAU/webcrawl-engine/internal/logging"
	"github.com/JakeFAU/webcrawl-engine/internal/progress"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/gcs"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/local"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/postgres"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/sqlite"
	"github.com/JakeFAU/webcrawl-engine/internal/telemetry"
)

// Browser backends selectable with engine.browser.
const (
	BrowserNative  = "native"
	BrowserStealth = "stealth"
	BrowserNone    = "none"
)

// Storage backends selectable with storage.backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    logging.Config   `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Crawl      crawl.Params     `mapstructure:"crawl"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Sites      SitesConfig      `mapstructure:"sites"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Progress   progress.Config  `mapstructure:"progress"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Tracing    telemetry.Config `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig selects the browser backend and tunes batching.
type EngineConfig struct {
	engine.Settings `mapstructure:",squash"`
	// Browser is native (chromedp), stealth (rod) or none (fetch only).
	Browser string `mapstructure:"browser"`
}

// ScraperConfig holds the per-scraper defaults every site starts from.
type ScraperConfig struct {
	scraper.Settings `mapstructure:",squash"`
	// RobotsAgent selects the robots.txt group. Empty means "*".
	RobotsAgent string `mapstructure:"robots_agent"`
}

// FetchConfig tunes the plain HTTP fetch path.
type FetchConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	// RateLimitRPS is the per-host safety limit; zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// HeadlessConfig configures the browser backends.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
	// RemoteURL attaches the stealth backend to a running Chrome.
	RemoteURL string `mapstructure:"remote_url"`
	Headful   bool   `mapstructure:"headful"`
}

// SitesConfig locates the site configuration files.
type SitesConfig struct {
	// Dir holds *.yaml site configs. Empty means every site uses the
	// default configuration.
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects where scan records go.
type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	SQLite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for scan-complete notifications. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	// Endpoint overrides the Pub/Sub endpoint, e.g. for the emulator.
	Endpoint string `mapstructure:"endpoint"`
}

// DispatcherConfig sizes the scan queue and worker pool.
type DispatcherConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "CRAWLER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	params := crawl.DefaultParams()
	settings := scraper.DefaultSettings()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("engine.batch_size", 5)
	v.SetDefault("engine.browser", BrowserNative)
	v.SetDefault("engine.inter_phase_delay", site.DefaultInterPhaseDelay.String())
	v.SetDefault("crawl.max_visits", params.MaxVisits)
	v.SetDefault("crawl.follow_links", params.FollowLinks)
	v.SetDefault("crawl.require_routines", params.RequireRoutines)
	v.SetDefault("crawl.queue_limit", params.QueueLimit)
	v.SetDefault("crawl.error_limit", params.ErrorLimit)
	v.SetDefault("crawl.skip_limit", params.SkipLimit)
	v.SetDefault("scraper.use_stealth", settings.UseStealth)
	v.SetDefault("scraper.timeout", settings.Timeout.String())
	v.SetDefault("scraper.min_interval", settings.MinInterval.String())
	v.SetDefault("scraper.interval_noise_max", settings.IntervalNoiseMax.String())
	v.SetDefault("scraper.action_noise_max", settings.ActionNoiseMax.String())
	v.SetDefault("scraper.robots_agent", "")
	v.SetDefault("fetch.user_agent", scraper.DefaultUserAgent)
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.rate_limit_rps", 2.0)
	v.SetDefault("fetch.rate_limit_burst", 1)
	v.SetDefault("headless.max_parallel", 5)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("sites.dir", "")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite.path", "webcrawl.db")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.local.base_dir", "data/scans")
	v.SetDefault("storage.gcs.prefix", "scans")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("dispatcher.workers", 1)
	v.SetDefault("dispatcher.queue_depth", 64)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", telemetry.DefaultServiceName)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be > 0")
	}
	switch c.Engine.Browser {
	case BrowserNative, BrowserStealth, BrowserNone:
	default:
		return fmt.Errorf("engine.browser must be one of native, stealth, none; got %q", c.Engine.Browser)
	}
	if err := validateParams(c.Crawl); err != nil {
		return err
	}
	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("scraper.timeout must be > 0")
	}
	if c.Scraper.MinInterval < 0 || c.Scraper.IntervalNoiseMax < 0 || c.Scraper.ActionNoiseMax < 0 {
		return fmt.Errorf("scraper intervals must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RateLimitRPS < 0 {
		return fmt.Errorf("fetch.rate_limit_rps must be >= 0")
	}
	if c.Headless.MaxParallel < 0 {
		return fmt.Errorf("headless.max_parallel must be >= 0")
	}
	// Each site of a batch holds one tab for its whole crawl.
	if c.Engine.Browser == BrowserNative && c.Headless.MaxParallel > 0 && c.Engine.BatchSize > c.Headless.MaxParallel {
		return fmt.Errorf("engine.batch_size (%d) must not exceed headless.max_parallel (%d)",
			c.Engine.BatchSize, c.Headless.MaxParallel)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be > 0")
	}
	if c.Dispatcher.QueueDepth <= 0 {
		return fmt.Errorf("dispatcher.queue_depth must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func validateParams(p crawl.Params) error {
	if p.MaxVisits < 0 {
		return fmt.Errorf("crawl.max_visits must be >= 0")
	}
	if p.QueueLimit <= 0 {
		return fmt.Errorf("crawl.queue_limit must be > 0")
	}
	if p.ErrorLimit < 0 {
		return fmt.Errorf("crawl.error_limit must be >= 0")
	}
	if p.SkipLimit < 0 {
		return fmt.Errorf("crawl.skip_limit must be >= 0")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case BackendLocal:
		if s.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	return nil
}
