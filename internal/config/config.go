// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Admin      AdminConfig      `mapstructure:"admin"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Governor   GovernorConfig   `mapstructure:"governor"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Search     SearchConfig     `mapstructure:"search"`
	JobEngine  JobEngineConfig  `mapstructure:"jobengine"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownGraceMs int `mapstructure:"shutdown_grace_ms"`
}

// AdminConfig secures the admin key-management paths.
type AdminConfig struct {
	Secret string `mapstructure:"secret"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig configures the optional distributed tier of the rate limiter.
// The page cache does not use Redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig governs the per-key sliding-window limiter.
type RateLimitConfig struct {
	DefaultPerMinute int `mapstructure:"default_per_minute"`
	WindowSeconds    int `mapstructure:"window_seconds"`
}

// GovernorConfig governs the per-host concurrency semaphore.
type GovernorConfig struct {
	DefaultCapacity int `mapstructure:"default_capacity"`
}

// CrawlerConfig holds scrape/crawl defaults.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	CacheTTLSeconds   int    `mapstructure:"cache_ttl_seconds"`
	MaxDepthDefault   int    `mapstructure:"max_depth_default"`
	MaxPagesDefault   int    `mapstructure:"max_pages_default"`
	ConcurrencyDefault int   `mapstructure:"concurrency_default"`
	PageCacheLRUSize  int    `mapstructure:"page_cache_lru_size"`
}

// HeadlessConfig configures the headless render fallback.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
	MaxParallel       int  `mapstructure:"max_parallel"`
}

// LLMConfig configures the agent-extraction provider.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// SearchConfig configures the web-search provider.
type SearchConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// JobEngineConfig governs the background job worker pool.
type JobEngineConfig struct {
	Workers             int `mapstructure:"workers"`
	LeaseMinutes        int `mapstructure:"lease_minutes"`
	PollIntervalMs      int `mapstructure:"poll_interval_ms"`
	QueueDepthWatermark int `mapstructure:"queue_depth_watermark"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file plus environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_grace_ms", 10000)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("ratelimit.default_per_minute", 60)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("governor.default_capacity", 5)
	v.SetDefault("crawler.user_agent", "webextract-bot/1.0")
	v.SetDefault("crawler.cache_ttl_seconds", 3600)
	v.SetDefault("crawler.max_depth_default", 1)
	v.SetDefault("crawler.max_pages_default", 10)
	v.SetDefault("crawler.concurrency_default", 5)
	v.SetDefault("crawler.page_cache_lru_size", 2048)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.max_parallel", 4)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.timeout_ms", 30000)
	v.SetDefault("jobengine.workers", 4)
	v.SetDefault("jobengine.lease_minutes", 10)
	v.SetDefault("jobengine.poll_interval_ms", 500)
	v.SetDefault("jobengine.queue_depth_watermark", 500)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.JobEngine.Workers <= 0 {
		return fmt.Errorf("jobengine.workers must be > 0")
	}
	if c.RateLimit.DefaultPerMinute <= 0 {
		return fmt.Errorf("ratelimit.default_per_minute must be > 0")
	}
	if c.Governor.DefaultCapacity <= 0 {
		return fmt.Errorf("governor.default_capacity must be > 0")
	}
	if c.Admin.Secret == "" {
		return fmt.Errorf("admin.secret must be set")
	}
	return nil
}

// JobLease converts the configured lease minutes into a time.Duration.
func (c Config) JobLease() time.Duration {
	return time.Duration(c.JobEngine.LeaseMinutes) * time.Minute
}
