// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Transform TransformConfig `mapstructure:"transform"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int  `mapstructure:"port"`
	EnableAdmin bool `mapstructure:"enable_admin"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TransformConfig governs the transformation pipeline.
type TransformConfig struct {
	Concurrency         int `mapstructure:"concurrency"`
	QueueDepth          int `mapstructure:"queue_depth"`
	CacheTTLSeconds     int `mapstructure:"cache_ttl_seconds"`
	CacheMaxEntries     int `mapstructure:"cache_max_entries"`
	LockLeaseSeconds    int `mapstructure:"lock_lease_seconds"`
	JobRetentionSeconds int `mapstructure:"job_retention_seconds"`
	ScrapeTimeoutSec    int `mapstructure:"scrape_timeout_seconds"`
	LLMTimeoutSec       int `mapstructure:"llm_timeout_seconds"`
	MaxContentChars     int `mapstructure:"max_content_chars"`
	EnqueueTimeoutSec   int `mapstructure:"enqueue_timeout_seconds"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// ScraperConfig governs page fetching.
type ScraperConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	IgnoreRobots   bool   `mapstructure:"ignore_robots"`
}

// UsageConfig sets per-user quota limits.
type UsageConfig struct {
	DefaultMonthlyLimit int            `mapstructure:"default_monthly_limit"`
	BurstPerMinute      int            `mapstructure:"burst_per_minute"`
	TierLimits          map[string]int `mapstructure:"tier_limits"`
}

// StorageConfig selects and configures the persistence backends.
type StorageConfig struct {
	// ArchiveProvider is "none" or "postgres".
	ArchiveProvider string `mapstructure:"archive_provider"`
	ArchiveTable    string `mapstructure:"archive_table"`
	// BlobProvider is "none", "memory", "local" or "gcs".
	BlobProvider string `mapstructure:"blob_provider"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	ContentType  string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERSONA")
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
	v.SetDefault("server.enable_admin", false)
	v.SetDefault("transform.concurrency", 4)
	v.SetDefault("transform.queue_depth", 64)
	v.SetDefault("transform.cache_ttl_seconds", 3600)
	v.SetDefault("transform.cache_max_entries", 10000)
	v.SetDefault("transform.lock_lease_seconds", 120)
	v.SetDefault("transform.job_retention_seconds", 86400)
	v.SetDefault("transform.scrape_timeout_seconds", 15)
	v.SetDefault("transform.llm_timeout_seconds", 60)
	v.SetDefault("transform.max_content_chars", 24000)
	v.SetDefault("transform.enqueue_timeout_seconds", 5)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("scraper.user_agent", "persona-scraper/1.0")
	v.SetDefault("scraper.timeout_seconds", 15)
	v.SetDefault("scraper.ignore_robots", false)
	v.SetDefault("usage.default_monthly_limit", 0)
	v.SetDefault("usage.burst_per_minute", 0)
	v.SetDefault("storage.archive_provider", "none")
	v.SetDefault("storage.archive_table", "transformations")
	v.SetDefault("storage.blob_provider", "none")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Transform.Concurrency <= 0 {
		return fmt.Errorf("transform.concurrency must be > 0")
	}
	if c.Transform.QueueDepth <= 0 {
		return fmt.Errorf("transform.queue_depth must be > 0")
	}
	if c.Transform.CacheTTLSeconds <= 0 {
		return fmt.Errorf("transform.cache_ttl_seconds must be > 0")
	}
	if c.Transform.LockLeaseSeconds <= 0 {
		return fmt.Errorf("transform.lock_lease_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.ArchiveProvider {
	case "", "none":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.archive_provider is postgres")
		}
	default:
		return fmt.Errorf("storage.archive_provider must be none or postgres")
	}
	switch c.Storage.BlobProvider {
	case "", "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.blob_provider is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob_provider is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_provider must be none, memory, local or gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// CacheTTL returns the result cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Transform.CacheTTLSeconds) * time.Second
}

// LockLease returns the single-flight lease duration.
func (c Config) LockLease() time.Duration {
	return time.Duration(c.Transform.LockLeaseSeconds) * time.Second
}

// JobRetention returns how long terminal jobs are kept for polling.
func (c Config) JobRetention() time.Duration {
	return time.Duration(c.Transform.JobRetentionSeconds) * time.Second
}

// ScrapeTimeout returns the per-job fetch budget.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Transform.ScrapeTimeoutSec) * time.Second
}

// LLMTimeout returns the per-job model budget.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.Transform.LLMTimeoutSec) * time.Second
}

// EnqueueTimeout returns how long admission waits for queue space.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Transform.EnqueueTimeoutSec) * time.Second
}
