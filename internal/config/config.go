package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Canonical  CanonicalConfig  `yaml:"canonical" mapstructure:"canonical"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Hero       HeroConfig       `yaml:"hero" mapstructure:"hero"`
	Feed       FeedConfig       `yaml:"feed" mapstructure:"feed"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// DiscoveryConfig configures the processing worker loop.
type DiscoveryConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	SaveThreshold    float64 `yaml:"save_threshold" mapstructure:"save_threshold"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollJitterFrac   float64 `yaml:"poll_jitter_frac" mapstructure:"poll_jitter_frac"`
	RatePerSecond    float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// PollInterval returns the configured poll interval as a duration.
func (c DiscoveryConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// CanonicalConfig configures URL canonicalization.
type CanonicalConfig struct {
	ResolveRedirects bool `yaml:"resolve_redirects" mapstructure:"resolve_redirects"`
	MaxRedirects     int  `yaml:"max_redirects" mapstructure:"max_redirects"`
	TimeoutSecs      int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// VerifyConfig configures citation reachability verification.
type VerifyConfig struct {
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
	BlockedExts []string `yaml:"blocked_exts" mapstructure:"blocked_exts"`
}

// ScrapeConfig configures body fetch and the readability gate that rejects
// catalog/metadata-only pages.
type ScrapeConfig struct {
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinTextLen      int      `yaml:"min_text_len" mapstructure:"min_text_len"`
	MinSentences    int      `yaml:"min_sentences" mapstructure:"min_sentences"`
	MinLetterRatio  float64  `yaml:"min_letter_ratio" mapstructure:"min_letter_ratio"`
	CatalogKeywords []string `yaml:"catalog_keywords" mapstructure:"catalog_keywords"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`

	// Fallback scraper credentials. Empty means the fallback is not wired
	// into the chain; the local fetcher always runs first.
	FirecrawlKey string `yaml:"firecrawl_key" mapstructure:"firecrawl_key"`
	JinaKey      string `yaml:"jina_key" mapstructure:"jina_key"`
}

// ScoringConfig configures the external relevance scoring service.
type ScoringConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTextLen  int    `yaml:"max_text_len" mapstructure:"max_text_len"`
	// CircuitFailureThreshold is the number of consecutive scoring
	// failures before calls are short-circuited.
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	// CircuitResetSecs is how long the circuit stays open before a
	// recovery probe is allowed through.
	CircuitResetSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// HeroConfig configures hero image enrichment.
type HeroConfig struct {
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	WikimediaBaseURL string `yaml:"wikimedia_base_url" mapstructure:"wikimedia_base_url"`
	ImageGenBaseURL  string `yaml:"imagegen_base_url" mapstructure:"imagegen_base_url"`
	ImageGenKey      string `yaml:"imagegen_key" mapstructure:"imagegen_key"`
	GenTimeoutSecs   int    `yaml:"gen_timeout_secs" mapstructure:"gen_timeout_secs"`
}

// FeedConfig configures agent-memory feed delivery.
type FeedConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Key              string `yaml:"key" mapstructure:"key"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AuditConfig configures the self-audit job.
type AuditConfig struct {
	IntervalSecs     int `yaml:"interval_secs" mapstructure:"interval_secs"`
	StuckTimeoutSecs int `yaml:"stuck_timeout_secs" mapstructure:"stuck_timeout_secs"`
}

// StuckTimeout returns the stuck-item timeout as a duration.
func (c AuditConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutSecs) * time.Second
}

// ExtractConfig configures citation extraction from monitored pages.
type ExtractConfig struct {
	InternalDomains []string `yaml:"internal_domains" mapstructure:"internal_domains"`
}

// ServerConfig configures the status/metrics HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background health checks and webhook
// alerting. Alerts fire only when a webhook URL is set.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RejectRateThreshold  float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
	FeedBacklogThreshold int     `yaml:"feed_backlog_threshold" mapstructure:"feed_backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RetryConfig configures retry behavior for external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.sqlite_path", "discovery.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.reject_rate_threshold", 0.5)
	v.SetDefault("monitoring.feed_backlog_threshold", 500)
	v.SetDefault("discovery.workers", 2)
	v.SetDefault("discovery.save_threshold", 60)
	v.SetDefault("discovery.poll_interval_secs", 5)
	v.SetDefault("discovery.poll_jitter_frac", 0.2)
	v.SetDefault("discovery.rate_per_second", 4)
	v.SetDefault("canonical.resolve_redirects", true)
	v.SetDefault("canonical.max_redirects", 5)
	v.SetDefault("canonical.timeout_secs", 8)
	v.SetDefault("verify.timeout_secs", 10)
	v.SetDefault("verify.user_agent", "Mozilla/5.0 (compatible; DiscoveryBot/1.0)")
	v.SetDefault("verify.blocked_exts", []string{".pdf", ".zip", ".jpg", ".jpeg", ".png", ".gif", ".mp4", ".mp3", ".exe", ".dmg"})
	v.SetDefault("scrape.timeout_secs", 20)
	v.SetDefault("scrape.min_text_len", 280)
	v.SetDefault("scrape.min_sentences", 3)
	v.SetDefault("scrape.min_letter_ratio", 0.55)
	v.SetDefault("scrape.catalog_keywords", []string{"add to cart", "items per page", "sort by", "search results", "shopping cart", "login to view"})
	v.SetDefault("scrape.max_body_bytes", 1024*1024)
	v.SetDefault("scoring.model", "claude-haiku-4-5-20251001")
	v.SetDefault("scoring.timeout_secs", 30)
	v.SetDefault("scoring.max_text_len", 12000)
	v.SetDefault("scoring.circuit_failure_threshold", 5)
	v.SetDefault("scoring.circuit_reset_secs", 30)
	v.SetDefault("hero.workers", 5)
	v.SetDefault("hero.poll_interval_secs", 10)
	v.SetDefault("hero.wikimedia_base_url", "https://commons.wikimedia.org/w/api.php")
	v.SetDefault("hero.gen_timeout_secs", 120)
	v.SetDefault("feed.batch_size", 20)
	v.SetDefault("feed.poll_interval_secs", 15)
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("audit.interval_secs", 120)
	v.SetDefault("audit.stuck_timeout_secs", 300)
	v.SetDefault("extract.internal_domains", []string{"wikipedia.org", "wikimedia.org", "wikidata.org", "wiktionary.org"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
