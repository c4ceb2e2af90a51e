package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/g2scv/llm-cost/adapters"
	"github.com/g2scv/llm-cost/aggregator"
	"github.com/g2scv/llm-cost/config"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/store/tables"
	"github.com/g2scv/llm-cost/validate"
)

// fakeFeed serves a mutable aggregator catalogue for the tests.
type fakeFeed struct {
	mu     sync.Mutex
	models string
}

func (f *fakeFeed) setModels(models string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
}

func (f *fakeFeed) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/providers":
			w.Write([]byte(`{"data":[{"name":"OpenAI","slug":"openai","privacy_policy_url":"https://openai.com/policies/privacy-policy"}]}`))
		case "/models":
			f.mu.Lock()
			defer f.mu.Unlock()
			w.Write([]byte(f.models))
		case "/chat/completions":
			w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}],"usage":{"prompt_tokens":4,"completion_tokens":1,"cost":0.0000135}}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func modelEntry(slug, prompt, completion, image string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"architecture": {"input_modalities": ["text"], "output_modalities": ["text"]},
		"pricing": {"prompt": %q, "completion": %q, "image": %q},
		"supported_parameters": ["temperature"]
	}`, slug, slug, prompt, completion, image)
}

func modelsJSON(entries ...string) string {
	out := `{"data":[`
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out + `]}`
}

type testEnv struct {
	pipeline *Pipeline
	store    *store.RDBStore
	feed     *fakeFeed
	cfg      *config.Config
}

func newTestEnv(t *testing.T, search adapters.SearchFunc, logger zerolog.Logger) *testEnv {
	t.Helper()

	feed := &fakeFeed{models: modelsJSON()}
	server := httptest.NewServer(feed.handler())
	t.Cleanup(server.Close)

	cfg := &config.Config{
		AggregatorURL:               server.URL,
		AggregatorKey:               "test-key",
		MaxParallelModels:           2,
		PriceChangeThresholdPercent: decimal.NewFromInt(30),
		PriceCapUSDPerMillion:       decimal.NewFromInt(10000),
		RequestTimeout:              5 * time.Second,
		TrustedPriceDomains:         []string{"openai.com", "acme.example"},
		ProtectedModels:             map[string]schemas.ProtectedPricing{},
	}

	pricingStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pricing.db"), logger)
	require.NoError(t, err)

	client := aggregator.NewClient(cfg.AggregatorURL, cfg.AggregatorKey, cfg.RequestTimeout, logger)
	registry := adapters.NewRegistry(search, cfg.TrustedPriceDomains, logger)
	validator := validate.New(cfg.PriceCapUSDPerMillion, cfg.PriceChangeThresholdPercent, logger)

	return &testEnv{
		pipeline: New(cfg, pricingStore, client, registry, validator, logger),
		store:    pricingStore,
		feed:     feed,
		cfg:      cfg,
	}
}

func (e *testEnv) pinDate(date time.Time) {
	e.pipeline.SetClock(func() time.Time { return date })
}

func (e *testEnv) snapshots(t *testing.T, slug string) []tables.PricingSnapshot {
	t.Helper()
	model, err := e.store.GetModelBySlug(context.Background(), slug)
	require.NoError(t, err)
	snapshots, err := e.store.ListSnapshots(context.Background(), model.ID)
	require.NoError(t, err)
	return snapshots
}

func TestRunStoresAggregatorSnapshot(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/gpt-4o")
	require.Len(t, snapshots, 1)
	snap := snapshots[0]
	assert.Equal(t, "aggregator_api", snap.SourceType)
	assert.Nil(t, snap.ProviderID)
	assert.Equal(t, "2026-08-24", snap.SnapshotDate)
	assert.Equal(t, "USD", snap.Currency)
	assert.True(t, snap.PromptUSDPerMillion.Decimal.Equal(decimal.NewFromInt(3)))
	assert.True(t, snap.CompletionUSDPerMillion.Decimal.Equal(decimal.NewFromInt(15)))
	require.NotNil(t, snap.SourceURL)
	assert.Equal(t, env.cfg.AggregatorURL+"/models", *snap.SourceURL)
	assert.Nil(t, snap.Notes)
}

func TestRunSkipsSentinelPricing(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/auto-router", "-1", "-1", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	// The model enters the catalogue but produces no snapshot.
	assert.Empty(t, env.snapshots(t, "openai/auto-router"))
}

func TestRunAcceptsInvertedPricesForImageModels(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/vision-pro", "0.00001", "0.000002", "0.01")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/vision-pro")
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].PromptUSDPerMillion.Decimal.Equal(decimal.NewFromInt(10)))
	assert.True(t, snapshots[0].CompletionUSDPerMillion.Decimal.Equal(decimal.NewFromInt(2)))
	assert.Nil(t, snapshots[0].Notes, "the inversion is expected for image-priced models")
}

func TestRunWarnsOnInvertedPricesForTextModels(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/odd-model", "0.00001", "0.000002", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/odd-model")
	require.Len(t, snapshots, 1)
	require.NotNil(t, snapshots[0].Notes)
	assert.Contains(t, *snapshots[0].Notes, "Warnings:")
	assert.Contains(t, *snapshots[0].Notes, "below prompt price")
}

func TestRunSameDayIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))
	require.NoError(t, env.pipeline.Run(context.Background()))

	assert.Len(t, env.snapshots(t, "openai/gpt-4o"), 1)
}

func TestRunAccumulatesDailyHistory(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	env.pinDate(time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))
	require.NoError(t, env.pipeline.Run(context.Background()))

	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/gpt-4o")
	require.Len(t, snapshots, 2)
	assert.Equal(t, "2026-08-23", snapshots[0].SnapshotDate)
	assert.Equal(t, "2026-08-24", snapshots[1].SnapshotDate)
}

func TestRunDetectsSignificantPriceChange(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnv(t, nil, zerolog.New(&buf))

	env.pinDate(time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.00000125", "0.000005", "0")))
	require.NoError(t, env.pipeline.Run(context.Background()))
	assert.NotContains(t, buf.String(), "significant_price_change_detected")

	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000015", "0.000005", "0")))
	require.NoError(t, env.pipeline.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "significant_price_change_detected")
	assert.Contains(t, out, `"change_percent":"1100.00"`)

	// Both days' rows are still written; detection never blocks the write.
	assert.Len(t, env.snapshots(t, "openai/gpt-4o"), 2)
}

func TestRunProtectedModelOverridesFeed(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.cfg.ProtectedModels["openai/text-embedding-3-large"] = schemas.ProtectedPricing{
		PromptUSDPerMillion:     decimal.RequireFromString("0.13"),
		CompletionUSDPerMillion: decimal.RequireFromString("0.065"),
		Note:                    "publisher-listed pricing",
	}
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/text-embedding-3-large", "0", "0", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/text-embedding-3-large")
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].PromptUSDPerMillion.Decimal.Equal(decimal.RequireFromString("0.13")))
	assert.True(t, snapshots[0].CompletionUSDPerMillion.Decimal.Equal(decimal.RequireFromString("0.065")))
	require.NotNil(t, snapshots[0].Notes)
	assert.Contains(t, *snapshots[0].Notes, "publisher-listed pricing")
}

func TestRunWebFallbackWhenFeedHasNoPricing(t *testing.T) {
	search := func(ctx context.Context, query string) ([]adapters.SearchResult, error) {
		return []adapters.SearchResult{{
			Title:       "Acme pricing",
			URL:         "https://acme.example/pricing",
			Description: "$3 per million input tokens, $15 per million output tokens",
		}}, nil
	}
	env := newTestEnv(t, search, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("acme/mystery-model", "-1", "-1", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "acme/mystery-model")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "web_fallback", snapshots[0].SourceType)
	assert.Nil(t, snapshots[0].ProviderID)
	assert.True(t, snapshots[0].PromptUSDPerMillion.Decimal.Equal(decimal.NewFromInt(3)))
	require.NotNil(t, snapshots[0].SourceURL)
	assert.Equal(t, "https://acme.example/pricing", *snapshots[0].SourceURL)
}

func TestRunWebFallbackSkippedWhenAggregatorWrote(t *testing.T) {
	search := func(ctx context.Context, query string) ([]adapters.SearchResult, error) {
		return []adapters.SearchResult{{
			Title:       "OpenAI pricing",
			URL:         "https://openai.com/api/pricing/",
			Description: "$99 per million input tokens, $99 per million output tokens",
		}}, nil
	}
	env := newTestEnv(t, search, zerolog.Nop())
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/gpt-4o")
	require.Len(t, snapshots, 1)
	assert.Equal(t, "aggregator_api", snapshots[0].SourceType)
}

func TestRunProviderScrapingWritesProviderRow(t *testing.T) {
	search := func(ctx context.Context, query string) ([]adapters.SearchResult, error) {
		return []adapters.SearchResult{{
			Title:       "OpenAI API pricing",
			URL:         "https://openai.com/api/pricing/",
			Description: "$2.50 per million input tokens, $10 per million output tokens",
		}}, nil
	}
	env := newTestEnv(t, search, zerolog.Nop())
	env.cfg.EnableProviderScraping = true
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	snapshots := env.snapshots(t, "openai/gpt-4o")
	bySource := map[string]tables.PricingSnapshot{}
	for _, s := range snapshots {
		bySource[s.SourceType] = s
	}
	require.Contains(t, bySource, "aggregator_api")
	require.Contains(t, bySource, "provider_site")

	siteSnap := bySource["provider_site"]
	require.NotNil(t, siteSnap.ProviderID)
	assert.True(t, siteSnap.PromptUSDPerMillion.Decimal.Equal(decimal.RequireFromString("2.5")))

	provider, err := env.store.GetProviderByID(context.Background(), *siteSnap.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, "openai", provider.Slug)
}

func TestRunRecordsBYOKVerification(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.cfg.BYOKSampleSize = 1
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(modelEntry("openai/gpt-4o", "0.000003", "0.000015", "0")))

	require.NoError(t, env.pipeline.Run(context.Background()))

	var verifications []tables.BYOKVerification
	require.NoError(t, env.store.ExecuteTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Find(&verifications).Error
	}))
	require.Len(t, verifications, 1)
	assert.Equal(t, "openai/gpt-4o", verifications[0].ModelSlug)
	assert.True(t, verifications[0].OK)
	assert.Equal(t, 4, verifications[0].PromptTokens)
	require.True(t, verifications[0].AggregatorCostUSD.Valid)
}

func TestRunSkipsBYOKForFreeModels(t *testing.T) {
	env := newTestEnv(t, nil, zerolog.Nop())
	env.cfg.BYOKSampleSize = 3
	env.pinDate(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	env.feed.setModels(modelsJSON(
		modelEntry("openai/free-model", "0", "0", "0"),
		modelEntry("openai/auto-router", "-1", "-1", "0"),
	))

	require.NoError(t, env.pipeline.Run(context.Background()))

	var count int64
	require.NoError(t, env.store.ExecuteTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Model(&tables.BYOKVerification{}).Count(&count).Error
	}))
	assert.Zero(t, count)
}
