package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// startup and passed by value afterwards.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// LLMConfig configures model invocation and the extraction pipeline.
type LLMConfig struct {
	Provider       string   `yaml:"provider" mapstructure:"provider"`
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	PrimaryModel   string   `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModels []string `yaml:"fallback_models" mapstructure:"fallback_models"`
	EnableFallback bool     `yaml:"enable_fallback" mapstructure:"enable_fallback"`

	// TokenLimits lists context window sizes per model. Models not listed
	// use DefaultTokenLimit.
	TokenLimits       []ModelLimit `yaml:"token_limits" mapstructure:"token_limits"`
	DefaultTokenLimit int          `yaml:"default_token_limit" mapstructure:"default_token_limit"`
	MinTokens         int          `yaml:"min_tokens" mapstructure:"min_tokens"`
	// MaxTokens caps the response budget when > 0.
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	SafetyBuffer int     `yaml:"safety_buffer" mapstructure:"safety_buffer"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`

	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LongTimeoutSecs   int `yaml:"long_timeout_secs" mapstructure:"long_timeout_secs"`
	LongDocumentChars int `yaml:"long_document_chars" mapstructure:"long_document_chars"`

	ContinuationMinMarkers int `yaml:"continuation_min_markers" mapstructure:"continuation_min_markers"`
	ContinuationMaxTokens  int `yaml:"continuation_max_tokens" mapstructure:"continuation_max_tokens"`
	ExcerptChars           int `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`

	// Referer and Title are sent as OpenRouter attribution headers.
	Referer string `yaml:"referer" mapstructure:"referer"`
	Title   string `yaml:"title" mapstructure:"title"`
}

// ModelLimit is a model's context window in tokens.
type ModelLimit struct {
	Model  string `yaml:"model" mapstructure:"model"`
	Tokens int    `yaml:"tokens" mapstructure:"tokens"`
}

// Models returns the ordered model list: the primary, then the fallbacks
// when fallback is enabled. Blank entries are skipped.
func (c LLMConfig) Models() []string {
	out := []string{}
	if c.PrimaryModel != "" {
		out = append(out, c.PrimaryModel)
	}
	if !c.EnableFallback {
		return out
	}
	for _, m := range c.FallbackModels {
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	return out
}

// Limit returns the context window of model.
func (c LLMConfig) Limit(model string) int {
	for _, l := range c.TokenLimits {
		if l.Model == model {
			return l.Tokens
		}
	}
	return c.DefaultTokenLimit
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BatchConfig configures batch processing of a directory of text files.
type BatchConfig struct {
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
	Extensions   []string `yaml:"extensions" mapstructure:"extensions"`
	MinFileBytes int64    `yaml:"min_file_bytes" mapstructure:"min_file_bytes"`
	MaxFileBytes int64    `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	SkipLines    bool     `yaml:"skip_lines" mapstructure:"skip_lines"`
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Models []ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Model  string  `yaml:"model" mapstructure:"model"`
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ResilienceConfig configures circuit breakers around model calls and
// retries of store writes.
type ResilienceConfig struct {
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	StoreRetries     int     `yaml:"store_retries" mapstructure:"store_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	DLQMaxRetries    int     `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// MonitoringConfig configures health checks over run history.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	DLQThreshold          int     `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases binds the OpenRouter environment names used by existing
// deployments in addition to the CVX_ prefixed names.
var envAliases = map[string][]string{
	"llm.api_key":         {"OPENROUTER_API_KEY"},
	"llm.base_url":        {"OPENROUTER_BASE_URL"},
	"llm.primary_model":   {"OPENROUTER_MODEL"},
	"llm.timeout_secs":    {"AI_API_TIMEOUT"},
	"llm.enable_fallback": {"ENABLE_FALLBACK_MODELS"},
	"llm.max_tokens":      {"DEFAULT_MAX_TOKENS"},
	"llm.min_tokens":      {"MIN_MAX_TOKENS"},
	"llm.safety_buffer":   {"TOKEN_SAFETY_BUFFER"},
	"llm.temperature":     {"AI_TEMPERATURE"},
}

// fallbackEnv names override individual fallback model positions.
var fallbackEnv = []string{
	"OPENROUTER_FALLBACK_MODEL_1",
	"OPENROUTER_FALLBACK_MODEL_2",
	"OPENROUTER_FALLBACK_MODEL_3",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CVX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		prefixed := "CVX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("llm.provider", "openrouter")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.primary_model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("llm.fallback_models", []string{
		"openai/gpt-4o",
		"anthropic/claude-3-haiku",
		"meta-llama/llama-3.1-8b-instruct",
	})
	v.SetDefault("llm.enable_fallback", true)
	v.SetDefault("llm.token_limits", []map[string]any{
		{"model": "anthropic/claude-3.5-sonnet", "tokens": 200000},
		{"model": "openai/gpt-4o", "tokens": 128000},
		{"model": "anthropic/claude-3-haiku", "tokens": 200000},
		{"model": "meta-llama/llama-3.1-8b-instruct", "tokens": 8192},
		{"model": "anthropic/claude-3-opus", "tokens": 200000},
		{"model": "openai/gpt-4-turbo", "tokens": 128000},
	})
	v.SetDefault("llm.default_token_limit", 8192)
	v.SetDefault("llm.min_tokens", 2000)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.safety_buffer", 1000)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout_secs", 180)
	v.SetDefault("llm.long_timeout_secs", 300)
	v.SetDefault("llm.long_document_chars", 20000)
	v.SetDefault("llm.continuation_min_markers", 2)
	v.SetDefault("llm.continuation_max_tokens", 10000)
	v.SetDefault("llm.excerpt_chars", 500)
	v.SetDefault("llm.referer", "https://cv-transform-app.com")
	v.SetDefault("llm.title", "CV Transform App")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "cv-extract.db")
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.extensions", []string{".txt", ".md", ".text"})
	v.SetDefault("batch.min_file_bytes", 1)
	v.SetDefault("batch.max_file_bytes", 50*1024*1024)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.store_retries", 3)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.dlq_max_retries", 3)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.dlq_threshold", 20)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
	applyFallbackEnv(&cfg.LLM)

	return &cfg, nil
}

func applyFallbackEnv(c *LLMConfig) {
	for i, name := range fallbackEnv {
		m, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		for len(c.FallbackModels) <= i {
			c.FallbackModels = append(c.FallbackModels, "")
		}
		c.FallbackModels[i] = m
	}
}

// Validate checks the configuration required by mode. Modes: "extract"
// (model calls only), "store" (run history only) and "batch" (both).
func (c *Config) Validate(mode string) error {
	var problems []string

	needLLM, needStore := false, false
	switch mode {
	case "extract":
		needLLM = true
	case "store":
		needStore = true
	case "batch":
		needLLM, needStore = true, true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needLLM {
		problems = append(problems, c.LLM.problems()...)
	}
	if needStore {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}
	if mode == "batch" && (c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32) {
		problems = append(problems, "batch.concurrency must be between 1 and 32")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c LLMConfig) problems() []string {
	var out []string
	switch c.Provider {
	case "openrouter", "anthropic":
	default:
		out = append(out, fmt.Sprintf("llm.provider %q is not supported", c.Provider))
	}
	if c.APIKey == "" {
		out = append(out, "llm.api_key is required")
	}
	if c.PrimaryModel == "" {
		out = append(out, "llm.primary_model is required")
	}
	if c.MinTokens <= 0 {
		out = append(out, "llm.min_tokens must be > 0")
	}
	if c.MaxTokens < 0 || (c.MaxTokens > 0 && c.MaxTokens < c.MinTokens) {
		out = append(out, "llm.max_tokens must be 0 or >= llm.min_tokens")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		out = append(out, "llm.temperature must be between 0 and 2")
	}
	if c.TimeoutSecs <= 0 {
		out = append(out, "llm.timeout_secs must be > 0")
	}
	if c.ContinuationMinMarkers < 0 || c.ContinuationMinMarkers > 3 {
		out = append(out, "llm.continuation_min_markers must be between 0 and 3")
	}
	return out
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
	// Logs go to stderr so stdout stays machine-readable.
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
