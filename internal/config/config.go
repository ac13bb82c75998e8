package config

import (
	"fmt"
	"sort"
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
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Platform   PlatformConfig   `yaml:"platform" mapstructure:"platform"`
	Ladder     LadderConfig     `yaml:"ladder" mapstructure:"ladder"`
	Vision     VisionConfig     `yaml:"vision" mapstructure:"vision"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Canonical  CanonicalConfig  `yaml:"canonical" mapstructure:"canonical"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig configures the optional Redis counter backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// BudgetConfig holds request, quota and vision-minute ceilings. Tier maps
// are keyed by tier name.
type BudgetConfig struct {
	Backend                  string           `yaml:"backend" mapstructure:"backend"` // store | redis
	MonthlyExtractions       map[string]int64 `yaml:"monthly_extractions" mapstructure:"monthly_extractions"`
	HourlyPerUser            int64            `yaml:"hourly_per_user" mapstructure:"hourly_per_user"`
	HourlyPerHousehold       int64            `yaml:"hourly_per_household" mapstructure:"hourly_per_household"`
	DailyVisionMinutes       map[string]int64 `yaml:"daily_vision_minutes" mapstructure:"daily_vision_minutes"`
	GlobalDailyVisionMinutes int64            `yaml:"global_daily_vision_minutes" mapstructure:"global_daily_vision_minutes"`
}

// AnthropicConfig holds text extraction model settings.
type AnthropicConfig struct {
	Key       string        `yaml:"key" mapstructure:"key"`
	Model     string        `yaml:"model" mapstructure:"model"`
	MaxTokens int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// GeminiConfig holds vision model settings.
type GeminiConfig struct {
	Key     string        `yaml:"key" mapstructure:"key"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PlatformConfig holds credentials and timeouts for the free metadata
// sources.
type PlatformConfig struct {
	YouTubeAPIKey     string        `yaml:"youtube_api_key" mapstructure:"youtube_api_key"`
	InstagramToken    string        `yaml:"instagram_token" mapstructure:"instagram_token"`
	TranscriptURL     string        `yaml:"transcript_url" mapstructure:"transcript_url"`
	TranscriptKey     string        `yaml:"transcript_key" mapstructure:"transcript_key"`
	TranscriptLang    string        `yaml:"transcript_lang" mapstructure:"transcript_lang"`
	MetadataTimeout   time.Duration `yaml:"metadata_timeout" mapstructure:"metadata_timeout"`
	CommentsTimeout   time.Duration `yaml:"comments_timeout" mapstructure:"comments_timeout"`
	TranscriptTimeout time.Duration `yaml:"transcript_timeout" mapstructure:"transcript_timeout"`
}

// LadderConfig tunes text acquisition and the extraction pre-gate.
type LadderConfig struct {
	DescriptionMinChars       int `yaml:"description_min_chars" mapstructure:"description_min_chars"`
	CommentLimit              int `yaml:"comment_limit" mapstructure:"comment_limit"`
	CommentMinScore           int `yaml:"comment_min_score" mapstructure:"comment_min_score"`
	TranscriptMaxDurationSecs int `yaml:"transcript_max_duration_secs" mapstructure:"transcript_max_duration_secs"`
	TranscriptBelowChars      int `yaml:"transcript_below_chars" mapstructure:"transcript_below_chars"`
	LLMMinChars               int `yaml:"llm_min_chars" mapstructure:"llm_min_chars"`
}

// VisionConfig gates the paid video fallback.
type VisionConfig struct {
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	Platforms       []string `yaml:"platforms" mapstructure:"platforms"`
	MaxDurationSecs int      `yaml:"max_duration_secs" mapstructure:"max_duration_secs"`
	MaxOutputTokens int32    `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// CacheConfig configures the extraction cache.
type CacheConfig struct {
	TTLDays int `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// CanonicalConfig tunes the vocabulary matcher.
type CanonicalConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

// ResilienceConfig configures breakers and retry for free upstream calls.
type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
}

// PricingConfig overrides the built-in per-model rates. Gemini model names
// contain dots, so their rates come from cost.DefaultRates unless a config
// file sets them.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	WebhookURL       string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	DailySpendUSD    float64       `yaml:"daily_spend_usd" mapstructure:"daily_spend_usd"`
	VisionShareMax   float64       `yaml:"vision_share_max" mapstructure:"vision_share_max"`
	RejectionRateMax float64       `yaml:"rejection_rate_max" mapstructure:"rejection_rate_max"`
	MinSamples       int           `yaml:"min_samples" mapstructure:"min_samples"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COOKCARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	// Credentials default to empty so AutomaticEnv can bind them.
	for _, key := range []string{
		"store.database_url", "redis.password", "anthropic.key", "gemini.key",
		"platform.youtube_api_key", "platform.instagram_token",
		"platform.transcript_url", "platform.transcript_key", "monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "cookcard.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("budget.backend", "store")
	v.SetDefault("budget.monthly_extractions", map[string]int64{"free": 10, "plus": 50, "premium": 200})
	v.SetDefault("budget.hourly_per_user", 30)
	v.SetDefault("budget.hourly_per_household", 60)
	v.SetDefault("budget.daily_vision_minutes", map[string]int64{"free": 30, "plus": 60, "premium": 120})
	v.SetDefault("budget.global_daily_vision_minutes", 600)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.timeout", 60*time.Second)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout", 120*time.Second)
	v.SetDefault("platform.transcript_lang", "en")
	v.SetDefault("platform.metadata_timeout", 10*time.Second)
	v.SetDefault("platform.comments_timeout", 10*time.Second)
	v.SetDefault("platform.transcript_timeout", 5*time.Second)
	v.SetDefault("ladder.description_min_chars", 100)
	v.SetDefault("ladder.comment_limit", 20)
	v.SetDefault("ladder.comment_min_score", 4)
	v.SetDefault("ladder.transcript_max_duration_secs", 180)
	v.SetDefault("ladder.transcript_below_chars", 200)
	v.SetDefault("ladder.llm_min_chars", 50)
	v.SetDefault("vision.enabled", true)
	v.SetDefault("vision.platforms", []string{"youtube"})
	v.SetDefault("vision.max_duration_secs", 600)
	v.SetDefault("vision.max_output_tokens", 4096)
	v.SetDefault("cache.ttl_days", 30)
	v.SetDefault("canonical.fuzzy_threshold", 0.2)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout", 30*time.Second)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff", 200*time.Millisecond)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.input", 1.00)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.output", 5.00)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.cache_write_mul", 1.25)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.cache_read_mul", 0.1)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 180*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.interval", 15*time.Minute)
	v.SetDefault("monitoring.daily_spend_usd", 25.0)
	v.SetDefault("monitoring.vision_share_max", 0.25)
	v.SetDefault("monitoring.rejection_rate_max", 0.5)
	v.SetDefault("monitoring.min_samples", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the settings a command needs are present and sane.
// mode is "store" for commands that only touch the database, "extract" for
// commands that may call the models and "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "extract", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch c.Budget.Backend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis budget backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("budget.backend %q is not supported", c.Budget.Backend))
	}

	errs = append(errs, c.Budget.negativeLimits()...)

	if c.Canonical.FuzzyThreshold < 0 || c.Canonical.FuzzyThreshold > 1 {
		errs = append(errs, "canonical.fuzzy_threshold must be between 0 and 1")
	}

	if mode == "extract" || mode == "serve" {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Vision.Enabled && c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required when vision.enabled is true")
		}
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
			errs = append(errs, "batch.concurrency must be between 1 and 64")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (b BudgetConfig) negativeLimits() []string {
	var errs []string
	for _, name := range sortedKeys(b.MonthlyExtractions) {
		if b.MonthlyExtractions[name] < 0 {
			errs = append(errs, fmt.Sprintf("budget.monthly_extractions.%s must be >= 0", name))
		}
	}
	for _, name := range sortedKeys(b.DailyVisionMinutes) {
		if b.DailyVisionMinutes[name] < 0 {
			errs = append(errs, fmt.Sprintf("budget.daily_vision_minutes.%s must be >= 0", name))
		}
	}
	if b.HourlyPerUser < 0 {
		errs = append(errs, "budget.hourly_per_user must be >= 0")
	}
	if b.HourlyPerHousehold < 0 {
		errs = append(errs, "budget.hourly_per_household must be >= 0")
	}
	if b.GlobalDailyVisionMinutes < 0 {
		errs = append(errs, "budget.global_daily_vision_minutes must be >= 0")
	}
	return errs
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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
