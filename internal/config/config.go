package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Completion  CompletionConfig  `yaml:"completion" mapstructure:"completion"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Dedup       DedupConfig       `yaml:"dedup" mapstructure:"dedup"`
	Normalize   NormalizeConfig   `yaml:"normalize" mapstructure:"normalize"`
	Review      ReviewConfig      `yaml:"review" mapstructure:"review"`
	Learning    LearningConfig    `yaml:"learning" mapstructure:"learning"`
	OCR         OCRConfig         `yaml:"ocr" mapstructure:"ocr"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Maintenance MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing     PricingConfig     `yaml:"pricing" mapstructure:"pricing"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// CompletionConfig configures the structured completion capability shared by
// extraction, structure refinement and normalization.
type CompletionConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerFailures  int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// OpenAIConfig holds settings for the OpenAI-compatible backend.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// IngestConfig configures structure analysis and chunk extraction.
type IngestConfig struct {
	ChunkMaxChars     int  `yaml:"chunk_max_chars" mapstructure:"chunk_max_chars"`
	ChunkOverlapChars int  `yaml:"chunk_overlap_chars" mapstructure:"chunk_overlap_chars"`
	ChunkConcurrency  int  `yaml:"chunk_concurrency" mapstructure:"chunk_concurrency"`
	L1TTLSecs         int  `yaml:"l1_ttl_secs" mapstructure:"l1_ttl_secs"`
	L2TTLHours        int  `yaml:"l2_ttl_hours" mapstructure:"l2_ttl_hours"`
	StructureLLM      bool `yaml:"structure_llm" mapstructure:"structure_llm"`
	MaxFileBytes      int  `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	FileConcurrency   int  `yaml:"file_concurrency" mapstructure:"file_concurrency"`
}

// FetchConfig configures downloading documents by URL.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// DedupConfig configures the approximate deduplicator.
type DedupConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	NumHashes int     `yaml:"num_hashes" mapstructure:"num_hashes"`
	Bands     int     `yaml:"bands" mapstructure:"bands"`
}

// NormalizeConfig configures the batch normalizer.
type NormalizeConfig struct {
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchConcurrency int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	CatalogPath      string  `yaml:"catalog_path" mapstructure:"catalog_path"`
	ProfilesDir      string  `yaml:"profiles_dir" mapstructure:"profiles_dir"`
	StrongMatch      float64 `yaml:"strong_match" mapstructure:"strong_match"`
	UseCompletion    bool    `yaml:"use_completion" mapstructure:"use_completion"`
}

// ReviewConfig configures the review queue.
type ReviewConfig struct {
	ExpiryHours  int `yaml:"expiry_hours" mapstructure:"expiry_hours"`
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
}

// LearningConfig configures the pattern learning engine.
type LearningConfig struct {
	MinSupport        int     `yaml:"min_support" mapstructure:"min_support"`
	ConfidenceFloor   float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	InitialConfidence float64 `yaml:"initial_confidence" mapstructure:"initial_confidence"`
	ConfidenceBoost   float64 `yaml:"confidence_boost" mapstructure:"confidence_boost"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// MaintenanceConfig holds cron schedules for background jobs run by serve.
type MaintenanceConfig struct {
	CachePruneSchedule string `yaml:"cache_prune_schedule" mapstructure:"cache_prune_schedule"`
	StaleRunSchedule   string `yaml:"stale_run_schedule" mapstructure:"stale_run_schedule"`
	StaleRunHours      int    `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
}

// MonitoringConfig configures the ingestion health check and its webhook
// alerts. Zero thresholds disable the matching alert.
type MonitoringConfig struct {
	Schedule             string  `yaml:"schedule" mapstructure:"schedule"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	MaxPendingAgeHours   int     `yaml:"max_pending_age_hours" mapstructure:"max_pending_age_hours"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("completion.provider", "anthropic")
	v.SetDefault("completion.max_tokens", 4096)
	v.SetDefault("completion.timeout_secs", 60)
	v.SetDefault("completion.rate_per_sec", 4.0)
	v.SetDefault("completion.burst", 5)
	v.SetDefault("completion.max_attempts", 3)
	v.SetDefault("completion.initial_backoff_ms", 500)
	v.SetDefault("completion.max_backoff_ms", 30000)
	v.SetDefault("completion.breaker_failures", 5)
	v.SetDefault("completion.breaker_reset_secs", 30)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("ingest.chunk_max_chars", 8000)
	v.SetDefault("ingest.chunk_overlap_chars", 200)
	v.SetDefault("ingest.chunk_concurrency", 5)
	v.SetDefault("ingest.l1_ttl_secs", 300)
	v.SetDefault("ingest.l2_ttl_hours", 24)
	v.SetDefault("ingest.structure_llm", false)
	v.SetDefault("ingest.max_file_bytes", 25<<20)
	v.SetDefault("ingest.file_concurrency", 2)
	v.SetDefault("fetch.user_agent", "catalog-ingest/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("dedup.threshold", 0.85)
	v.SetDefault("dedup.num_hashes", 128)
	v.SetDefault("dedup.bands", 32)
	v.SetDefault("normalize.batch_size", 10)
	v.SetDefault("normalize.batch_concurrency", 8)
	v.SetDefault("normalize.catalog_path", "catalog.yaml")
	v.SetDefault("normalize.profiles_dir", "profiles")
	v.SetDefault("normalize.strong_match", 0.5)
	v.SetDefault("normalize.use_completion", true)
	v.SetDefault("review.expiry_hours", 24*14)
	v.SetDefault("review.default_limit", 50)
	v.SetDefault("learning.min_support", 3)
	v.SetDefault("learning.confidence_floor", 0.4)
	v.SetDefault("learning.initial_confidence", 0.7)
	v.SetDefault("learning.confidence_boost", 0.1)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("maintenance.cache_prune_schedule", "@hourly")
	v.SetDefault("maintenance.stale_run_schedule", "@every 30m")
	v.SetDefault("maintenance.stale_run_hours", 2)
	v.SetDefault("monitoring.schedule", "@every 15m")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.backlog_threshold", 1000)
	v.SetDefault("monitoring.max_pending_age_hours", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the keys a command needs are present and that tuning
// values are in range. Mode is one of "ingest", "review", "serve" or
// "maintenance".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ingest", "review", "serve", "maintenance":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "ingest" || mode == "serve" {
		switch c.Completion.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "openai":
			if c.OpenAI.Key == "" {
				errs = append(errs, "openai.key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("completion.provider %q is not supported", c.Completion.Provider))
		}
		if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
			errs = append(errs, "ocr.mistral_api_key is required")
		}
		if c.Ingest.ChunkConcurrency < 1 || c.Ingest.ChunkConcurrency > 32 {
			errs = append(errs, "ingest.chunk_concurrency must be between 1 and 32")
		}
		if c.Normalize.BatchConcurrency < 1 || c.Normalize.BatchConcurrency > 8 {
			errs = append(errs, "normalize.batch_concurrency must be between 1 and 8")
		}
		if c.Ingest.ChunkOverlapChars >= c.Ingest.ChunkMaxChars {
			errs = append(errs, "ingest.chunk_overlap_chars must be smaller than ingest.chunk_max_chars")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		errs = append(errs, "dedup.threshold must be in (0, 1]")
	}
	if c.Dedup.Bands <= 0 || c.Dedup.NumHashes <= 0 || c.Dedup.NumHashes%c.Dedup.Bands != 0 {
		errs = append(errs, "dedup.num_hashes must be a positive multiple of dedup.bands")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Learning.ConfidenceFloor < 0 || c.Learning.ConfidenceFloor > 1 {
		errs = append(errs, "learning.confidence_floor must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
