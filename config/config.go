// Package config loads and validates the pipeline configuration from the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultRunIntervalHours     = 24
	DefaultMaxParallelModels    = 10
	DefaultChangeThresholdPct   = 30.0
	DefaultRequestTimeout       = 30 * time.Second
	DefaultBackendFreshnessDays = 7
	DefaultBYOKSampleSize       = 5
)

// DefaultPriceCapUSDPerMillion is the soft validation ceiling.
var DefaultPriceCapUSDPerMillion = decimal.NewFromInt(10000)

// defaultTrustedPriceDomains is the union of domains the generic web adapter
// may extract prices from. Overridable via TRUSTED_PRICE_DOMAINS.
var defaultTrustedPriceDomains = []string{
	"openai.com",
	"anthropic.com",
	"cloud.google.com",
	"ai.google.dev",
	"cohere.com",
	"mistral.ai",
	"groq.com",
	"together.ai",
	"fireworks.ai",
	"deepinfra.com",
	"deepseek.com",
	"replicate.com",
	"perplexity.ai",
	"cerebras.ai",
	"x.ai",
	"meta.com",
	"llama.com",
	"nvidia.com",
	"microsoft.com",
	"amazon.com",
	"aws.amazon.com",
	"openrouter.ai",
	"huggingface.co",
}

// defaultProtectedModels maps protected slugs to their curated pricing.
// These rows must stay active in the backend projection even when the
// aggregator feed stops listing them.
func defaultProtectedModels() map[string]schemas.ProtectedPricing {
	return map[string]schemas.ProtectedPricing{
		"openai/text-embedding-3-large": {
			PromptUSDPerMillion:     decimal.RequireFromString("0.13"),
			CompletionUSDPerMillion: decimal.RequireFromString("0.065"),
			Note:                    "publisher-listed pricing",
		},
	}
}

// Config is the full runtime configuration. All values come from the
// environment; Load applies defaults and validates required keys.
type Config struct {
	AggregatorURL string
	AggregatorKey string

	PricingStoreURL string
	BackendStoreURL string

	WebSearchKey           string
	EnableProviderScraping bool

	RunIntervalHours int
	RunOnStartup     bool

	MaxParallelModels           int
	PriceChangeThresholdPercent decimal.Decimal
	PriceCapUSDPerMillion       decimal.Decimal
	RequestTimeout              time.Duration

	ModelFilters schemas.ModelFilters

	DefaultEmbeddingModelID string
	DefaultChatModelID      string

	TrustedPriceDomains  []string
	BackendFreshnessDays int
	BYOKSampleSize       int

	ProtectedModels map[string]schemas.ProtectedPricing

	LogLevel  schemas.LogLevel
	LogFormat schemas.LogFormat
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AggregatorURL:   strings.TrimSuffix(getString("AGGREGATOR_URL", "https://openrouter.ai/api/v1"), "/"),
		AggregatorKey:   os.Getenv("AGGREGATOR_KEY"),
		PricingStoreURL: dsnWithKey(os.Getenv("PRICING_STORE_URL"), os.Getenv("PRICING_STORE_KEY")),
		BackendStoreURL: dsnWithKey(os.Getenv("BACKEND_STORE_URL"), os.Getenv("BACKEND_STORE_KEY")),

		WebSearchKey:           os.Getenv("WEB_SEARCH_KEY"),
		EnableProviderScraping: getBool("ENABLE_PROVIDER_SCRAPING", false),

		RunIntervalHours: getInt("RUN_INTERVAL_HOURS", DefaultRunIntervalHours),
		RunOnStartup:     getBool("RUN_ON_STARTUP", true),

		MaxParallelModels: getInt("MAX_PARALLEL_MODELS", DefaultMaxParallelModels),
		RequestTimeout:    time.Duration(getInt("REQUEST_TIMEOUT_SECONDS", int(DefaultRequestTimeout/time.Second))) * time.Second,

		DefaultEmbeddingModelID: os.Getenv("DEFAULT_EMBEDDING_MODEL_ID"),
		DefaultChatModelID:      os.Getenv("DEFAULT_CHAT_MODEL_ID"),

		TrustedPriceDomains:  getCSV("TRUSTED_PRICE_DOMAINS", defaultTrustedPriceDomains),
		BackendFreshnessDays: getInt("BACKEND_FRESHNESS_DAYS", DefaultBackendFreshnessDays),
		BYOKSampleSize:       getInt("BYOK_SAMPLE_SIZE", DefaultBYOKSampleSize),

		ProtectedModels: defaultProtectedModels(),

		LogLevel:  schemas.LogLevel(getString("LOG_LEVEL", string(schemas.LogLevelInfo))),
		LogFormat: schemas.LogFormat(getString("LOG_FORMAT", string(schemas.LogFormatJSON))),
	}

	threshold, err := getDecimal("PRICE_CHANGE_THRESHOLD_PERCENT", decimal.NewFromFloat(DefaultChangeThresholdPct))
	if err != nil {
		return nil, err
	}
	cfg.PriceChangeThresholdPercent = threshold

	cap, err := getDecimal("PRICE_MAX_USD_PER_MILLION", DefaultPriceCapUSDPerMillion)
	if err != nil {
		return nil, err
	}
	cfg.PriceCapUSDPerMillion = cap

	cfg.ModelFilters = schemas.ModelFilters{
		SupportedParameters: getCSV("MODEL_FILTER_SUPPORTED_PARAMETERS", nil),
		InputModalities:     getCSV("MODEL_FILTER_INPUT_MODALITIES", nil),
		OutputModalities:    getCSV("MODEL_FILTER_OUTPUT_MODALITIES", nil),
	}
	if v, ok := os.LookupEnv("MODEL_FILTER_DISTILLABLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid MODEL_FILTER_DISTILLABLE %q: %w", v, err)
		}
		cfg.ModelFilters.Distillable = &b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AggregatorKey == "" {
		return fmt.Errorf("AGGREGATOR_KEY is required")
	}
	if c.PricingStoreURL == "" {
		return fmt.Errorf("PRICING_STORE_URL is required")
	}
	if c.RunIntervalHours <= 0 {
		return fmt.Errorf("RUN_INTERVAL_HOURS must be positive, got %d", c.RunIntervalHours)
	}
	if c.MaxParallelModels <= 0 {
		return fmt.Errorf("MAX_PARALLEL_MODELS must be positive, got %d", c.MaxParallelModels)
	}
	return nil
}

// BackendSyncEnabled reports whether projection-store credentials are set.
func (c *Config) BackendSyncEnabled() bool {
	return c.BackendStoreURL != ""
}

// ProtectedSlugs returns the protected set as a slice.
func (c *Config) ProtectedSlugs() []string {
	slugs := make([]string, 0, len(c.ProtectedModels))
	for slug := range c.ProtectedModels {
		slugs = append(slugs, slug)
	}
	return slugs
}

// dsnWithKey folds an optional credential into a Postgres DSN that does not
// already carry one. Both URL and keyword DSN forms are accepted.
func dsnWithKey(dsn, key string) string {
	if dsn == "" || key == "" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		if u.User != nil {
			if _, set := u.User.Password(); !set {
				u.User = url.UserPassword(u.User.Username(), key)
			}
		}
		return u.String()
	}
	if !strings.Contains(dsn, "password=") {
		return dsn + " password=" + key
	}
	return dsn
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getCSV(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
