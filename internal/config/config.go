// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store driver names.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Blob driver names.
const (
	BlobNone   = "none"
	BlobMemory = "memory"
	BlobLocal  = "local"
	BlobGCS    = "gcs"
)

// Embedding provider names.
const (
	EmbeddingMock   = "mock"
	EmbeddingCohere = "cohere"
	EmbeddingOllama = "ollama"
)

// Summarizer provider names.
const (
	SummarizerTemplate = "template"
	SummarizerCohere   = "cohere"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Blob        BlobConfig        `mapstructure:"blob"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Decay       DecayConfig       `mapstructure:"decay"`
	Reconstruct ReconstructConfig `mapstructure:"reconstruct"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int    `mapstructure:"max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Migrate    bool   `mapstructure:"migrate"`
}

// BlobConfig selects where raw snapshots are archived.
type BlobConfig struct {
	Driver   string `mapstructure:"driver"`
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for page event notifications.
type PubSubConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	IngestedTopic string `mapstructure:"ingested_topic"`
	DecayedTopic  string `mapstructure:"decayed_topic"`
}

// HTTPConfig configures the outbound fetch stack.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// DiscoveryConfig governs the discovery orchestrator and its connectors.
type DiscoveryConfig struct {
	Schedule           string   `mapstructure:"schedule"`
	RunOnStart         bool     `mapstructure:"run_on_start"`
	Concurrency        int      `mapstructure:"concurrency"`
	LookbackHours      int      `mapstructure:"lookback_hours"`
	MaxEnqueue         int      `mapstructure:"max_enqueue"`
	Connectors         []string `mapstructure:"connectors"`
	ArxivFeedURL       string   `mapstructure:"arxiv_feed_url"`
	OpenAlexURL        string   `mapstructure:"openalex_url"`
	CrossRefURL        string   `mapstructure:"crossref_url"`
	CrossRefMailto     string   `mapstructure:"crossref_mailto"`
	CommonCrawlURL     string   `mapstructure:"commoncrawl_url"`
	CommonCrawlPattern string   `mapstructure:"commoncrawl_pattern"`
	CommonCrawlMIME    string   `mapstructure:"commoncrawl_mime"`
	PerPage            int      `mapstructure:"per_page"`
}

// BatchConfig governs the batch processor.
type BatchConfig struct {
	Schedule           string `mapstructure:"schedule"`
	Size               int    `mapstructure:"size"`
	Concurrency        int    `mapstructure:"concurrency"`
	MaxRetries         int    `mapstructure:"max_retries"`
	BackoffInitialMs   int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int    `mapstructure:"backoff_max_ms"`
	ItemTimeoutSeconds int    `mapstructure:"item_timeout_seconds"`
}

// ExtractConfig governs document extraction.
type ExtractConfig struct {
	MaxBodyChars int `mapstructure:"max_body_chars"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	CacheSize      int    `mapstructure:"cache_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DecayConfig governs decay scoring and the liveness monitor.
type DecayConfig struct {
	Schedule            string   `mapstructure:"schedule"`
	ProbeConcurrency    int      `mapstructure:"probe_concurrency"`
	ProbeTimeoutSeconds int      `mapstructure:"probe_timeout_seconds"`
	ProbeUserAgent      string   `mapstructure:"probe_user_agent"`
	WhoisTimeoutSeconds int      `mapstructure:"whois_timeout_seconds"`
	TLSTimeoutSeconds   int      `mapstructure:"tls_timeout_seconds"`
	FreeHosts           []string `mapstructure:"free_hosts"`
}

// ReconstructConfig selects the summarizer used for reconstructions.
type ReconstructConfig struct {
	Provider       string `mapstructure:"provider"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRESHNESS")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.sqlite_path", "freshness.db")
	v.SetDefault("store.migrate", true)
	v.SetDefault("blob.driver", BlobNone)
	v.SetDefault("blob.local_dir", "snapshots")
	v.SetDefault("blob.prefix", "snapshots")
	v.SetDefault("pubsub.ingested_topic", "page-ingested")
	v.SetDefault("pubsub.decayed_topic", "page-decayed")
	v.SetDefault("http.user_agent", "doc-freshness-bot/1.0")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 2)
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("discovery.schedule", "0 */6 * * *")
	v.SetDefault("discovery.run_on_start", true)
	v.SetDefault("discovery.concurrency", 2)
	v.SetDefault("discovery.lookback_hours", 720)
	v.SetDefault("discovery.max_enqueue", 50)
	v.SetDefault("discovery.connectors", []string{"arxiv", "openalex", "crossref", "commoncrawl"})
	v.SetDefault("discovery.arxiv_feed_url", "https://export.arxiv.org/rss/cs")
	v.SetDefault("discovery.openalex_url", "https://api.openalex.org/works")
	v.SetDefault("discovery.crossref_url", "https://api.crossref.org/works")
	v.SetDefault("discovery.commoncrawl_url", "https://index.commoncrawl.org")
	v.SetDefault("discovery.commoncrawl_pattern", "*.edu")
	v.SetDefault("discovery.commoncrawl_mime", "application/pdf")
	v.SetDefault("discovery.per_page", 50)
	v.SetDefault("batch.schedule", "")
	v.SetDefault("batch.size", 20)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.max_retries", 2)
	v.SetDefault("batch.backoff_initial_ms", 500)
	v.SetDefault("batch.backoff_max_ms", 4000)
	v.SetDefault("batch.item_timeout_seconds", 120)
	v.SetDefault("extract.max_body_chars", 10000)
	v.SetDefault("embedding.provider", EmbeddingMock)
	v.SetDefault("embedding.model", "embed-english-v3.0")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.cache_size", 4096)
	v.SetDefault("embedding.timeout_seconds", 20)
	v.SetDefault("decay.schedule", "0 */6 * * *")
	v.SetDefault("decay.probe_concurrency", 16)
	v.SetDefault("decay.probe_timeout_seconds", 5)
	v.SetDefault("decay.probe_user_agent", "Mozilla/5.0 (compatible; DecayMonitorBot/1.0)")
	v.SetDefault("decay.whois_timeout_seconds", 10)
	v.SetDefault("decay.tls_timeout_seconds", 10)
	v.SetDefault("decay.free_hosts", []string{"github.io", "wordpress.com", "wixsite"})
	v.SetDefault("reconstruct.provider", SummarizerTemplate)
	v.SetDefault("reconstruct.model", "command-r")
	v.SetDefault("reconstruct.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Blob.Driver {
	case BlobNone, BlobMemory:
	case BlobLocal:
		if c.Blob.LocalDir == "" {
			return fmt.Errorf("blob.local_dir must be set for the local driver")
		}
	case BlobGCS:
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("blob.driver %q is not supported", c.Blob.Driver)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("discovery.concurrency must be > 0")
	}
	if c.Discovery.LookbackHours <= 0 {
		return fmt.Errorf("discovery.lookback_hours must be > 0")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Batch.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must be >= 0")
	}
	if c.Extract.MaxBodyChars <= 0 {
		return fmt.Errorf("extract.max_body_chars must be > 0")
	}
	switch c.Embedding.Provider {
	case EmbeddingMock, EmbeddingOllama:
	case EmbeddingCohere:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key must be set for the cohere provider")
		}
	default:
		return fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	if c.Embedding.CacheSize <= 0 {
		return fmt.Errorf("embedding.cache_size must be > 0")
	}
	if c.Decay.ProbeConcurrency <= 0 {
		return fmt.Errorf("decay.probe_concurrency must be > 0")
	}
	if c.Decay.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("decay.probe_timeout_seconds must be > 0")
	}
	switch c.Reconstruct.Provider {
	case SummarizerTemplate:
	case SummarizerCohere:
		if c.Reconstruct.APIKey == "" && c.Embedding.APIKey == "" {
			return fmt.Errorf("reconstruct.api_key must be set for the cohere provider")
		}
	default:
		return fmt.Errorf("reconstruct.provider %q is not supported", c.Reconstruct.Provider)
	}
	return nil
}

// Lookback returns how far back connectors look for new documents.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Discovery.LookbackHours) * time.Hour
}

// ItemTimeout returns the overall deadline for one pending item.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Batch.ItemTimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-request timeout for outbound fetches.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout for liveness checks.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Decay.ProbeTimeoutSeconds) * time.Second
}
