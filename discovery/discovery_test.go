package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g2scv/llm-cost/aggregator"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
)

const providersPayload = `{
	"data": [
		{
			"name": "OpenAI",
			"slug": "openai",
			"privacy_policy_url": "https://openai.com/policies/privacy-policy"
		},
		{
			"name": "NewCloud",
			"slug": "newcloud",
			"terms_of_service_url": "https://newcloud.example/terms"
		},
		{
			"name": "NoURLs",
			"slug": "nourls"
		}
	]
}`

const modelsPayload = `{
	"data": [
		{
			"id": "openai/gpt-4o",
			"canonical_slug": "openai/gpt-4o-2024-08-06",
			"name": "GPT-4o",
			"description": "Flagship multimodal model.",
			"context_length": 128000,
			"architecture": {
				"modality": "text+image->text",
				"input_modalities": ["text", "image"],
				"output_modalities": ["text"]
			},
			"pricing": {"prompt": "0.0000025", "completion": "0.00001"},
			"top_provider": {"context_length": 128000, "max_completion_tokens": 16384},
			"supported_parameters": ["tools", "temperature"]
		},
		{
			"id": "standalone-model",
			"name": "Standalone",
			"pricing": {"prompt": "0.000001", "completion": "0.000002"}
		}
	]
}`

func newTestService(t *testing.T) (*Service, *store.RDBStore) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/providers":
			w.Write([]byte(providersPayload))
		case "/models":
			w.Write([]byte(modelsPayload))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	pricingStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pricing.db"), logger)
	require.NoError(t, err)
	client := aggregator.NewClient(server.URL, "test-key", 5*time.Second, logger)
	return New(pricingStore, client, logger), pricingStore
}

func TestRunUpsertsProviders(t *testing.T) {
	svc, pricingStore := newTestService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, schemas.ModelFilters{})
	require.NoError(t, err)

	openai, err := pricingStore.GetProviderBySlug(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", openai.DisplayName)
	require.NotNil(t, openai.HomepageURL)
	assert.Equal(t, "https://openai.com", *openai.HomepageURL)
	require.NotNil(t, openai.PricingURL)
	assert.Equal(t, "https://openai.com/api/pricing/", *openai.PricingURL)

	// Providers outside the static map get {homepage}/pricing.
	newcloud, err := pricingStore.GetProviderBySlug(ctx, "newcloud")
	require.NoError(t, err)
	require.NotNil(t, newcloud.PricingURL)
	assert.Equal(t, "https://newcloud.example/pricing", *newcloud.PricingURL)

	// No URL fields at all: both derived URLs stay empty.
	nourls, err := pricingStore.GetProviderBySlug(ctx, "nourls")
	require.NoError(t, err)
	assert.Nil(t, nourls.HomepageURL)
	assert.Nil(t, nourls.PricingURL)
}

func TestRunUpsertsModelsAndLinks(t *testing.T) {
	svc, pricingStore := newTestService(t)
	ctx := context.Background()

	result, err := svc.Run(ctx, schemas.ModelFilters{})
	require.NoError(t, err)
	assert.Len(t, result.Models, 2)

	model, err := pricingStore.GetModelBySlug(ctx, "openai/gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o", model.DisplayName)
	require.NotNil(t, model.CanonicalSlug)
	assert.Equal(t, "openai/gpt-4o-2024-08-06", *model.CanonicalSlug)
	require.NotNil(t, model.ContextLength)
	assert.Equal(t, 128000, *model.ContextLength)
	require.NotNil(t, model.Architecture)
	assert.Contains(t, *model.Architecture, `"input_modalities":["text","image"]`)

	links, err := pricingStore.ListModelProviders(ctx, model.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].IsTopProvider)
	require.NotNil(t, links[0].ProviderMetadata)
	assert.Contains(t, *links[0].ProviderMetadata, `"max_completion_tokens":16384`)

	// The namespace-free slug is stored but cannot be linked.
	standalone, err := pricingStore.GetModelBySlug(ctx, "standalone-model")
	require.NoError(t, err)
	noLinks, err := pricingStore.ListModelProviders(ctx, standalone.ID)
	require.NoError(t, err)
	assert.Empty(t, noLinks)
}

func TestRunReportsNewSlugsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Run(ctx, schemas.ModelFilters{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openai/gpt-4o", "standalone-model"}, first.NewSlugs)

	second, err := svc.Run(ctx, schemas.ModelFilters{})
	require.NoError(t, err)
	assert.Empty(t, second.NewSlugs)
	assert.Len(t, second.Models, 2)
}
