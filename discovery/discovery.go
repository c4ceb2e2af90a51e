// Package discovery refreshes the stored catalogue from the aggregator's
// models and providers feeds and reports newly-seen models.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/g2scv/llm-cost/aggregator"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/store/tables"
)

// pricingURLBySlug maps well-known provider slugs to their published pricing
// pages, used when the feed carries no pricing URL.
var pricingURLBySlug = map[string]string{
	"openai":     "https://openai.com/api/pricing/",
	"anthropic":  "https://www.anthropic.com/pricing",
	"cohere":     "https://cohere.com/pricing",
	"google":     "https://cloud.google.com/vertex-ai/generative-ai/pricing",
	"mistral":    "https://mistral.ai/technology/#pricing",
	"groq":       "https://groq.com/pricing/",
	"together":   "https://www.together.ai/pricing",
	"fireworks":  "https://fireworks.ai/pricing",
	"deepinfra":  "https://deepinfra.com/pricing",
	"replicate":  "https://replicate.com/pricing",
	"perplexity": "https://docs.perplexity.ai/guides/pricing",
	"cerebras":   "https://www.cerebras.ai/pricing",
}

// Service performs one catalogue refresh per tick.
type Service struct {
	store  store.PricingStore
	client *aggregator.Client
	logger zerolog.Logger
}

// New creates a discovery Service.
func New(pricingStore store.PricingStore, client *aggregator.Client, logger zerolog.Logger) *Service {
	return &Service{store: pricingStore, client: client, logger: logger}
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Models is the filtered catalogue to price this tick.
	Models []schemas.AggregatorModel
	// NewSlugs are models seen for the first time.
	NewSlugs []string
}

// Run upserts providers and models and diffs the catalogue against what was
// already stored.
func (s *Service) Run(ctx context.Context, filters schemas.ModelFilters) (*Result, error) {
	if err := s.refreshProviders(ctx); err != nil {
		return nil, err
	}

	remote, err := s.client.ListModels(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	existing, err := s.store.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored models: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[m.Slug] = struct{}{}
	}

	var newSlugs []string
	for _, m := range remote {
		if err := s.upsertModel(ctx, m); err != nil {
			s.logger.Warn().Err(err).Str("model", m.Slug).Msg("model_upsert_failed")
			continue
		}
		if _, seen := known[m.Slug]; !seen {
			newSlugs = append(newSlugs, m.Slug)
		}
	}

	if len(newSlugs) > 0 {
		s.logger.Info().Strs("models", newSlugs).Msg("new_models_discovered")
	}
	return &Result{Models: remote, NewSlugs: newSlugs}, nil
}

func (s *Service) refreshProviders(ctx context.Context) error {
	remote, err := s.client.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}
	for _, p := range remote {
		provider := tables.Provider{
			Slug:        p.Slug,
			DisplayName: p.Name,
		}
		if homepage := deriveHomepage(p); homepage != "" {
			provider.HomepageURL = &homepage
		}
		if pricing := derivePricingURL(p.Slug, provider.HomepageURL); pricing != "" {
			provider.PricingURL = &pricing
		}
		if err := s.store.UpsertProvider(ctx, &provider); err != nil {
			s.logger.Warn().Err(err).Str("provider", p.Slug).Msg("provider_upsert_failed")
		}
	}
	return nil
}

func (s *Service) upsertModel(ctx context.Context, m schemas.AggregatorModel) error {
	model := tables.Model{
		Slug:        m.Slug,
		DisplayName: m.Name,
	}
	if m.CanonicalSlug != "" {
		model.CanonicalSlug = &m.CanonicalSlug
	}
	if m.Description != "" {
		model.Description = &m.Description
	}
	if m.HuggingFaceID != "" {
		model.HuggingFaceID = &m.HuggingFaceID
	}
	model.ContextLength = m.ContextLength

	if arch, err := json.Marshal(m.Architecture); err == nil {
		archStr := string(arch)
		model.Architecture = &archStr
	}
	if params, err := json.Marshal(m.SupportedParameters); err == nil {
		paramsStr := string(params)
		model.SupportedParameters = &paramsStr
	}

	if err := s.store.UpsertModel(ctx, &model); err != nil {
		return err
	}
	return s.linkProvider(ctx, &model, m)
}

// linkProvider creates the (model, provider) link when the slug's namespace
// prefix names a provider we know about.
func (s *Service) linkProvider(ctx context.Context, model *tables.Model, m schemas.AggregatorModel) error {
	namespace, _, ok := strings.Cut(m.Slug, "/")
	if !ok || namespace == "" {
		return nil
	}
	provider, err := s.store.GetProviderBySlug(ctx, namespace)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	link := tables.ModelProvider{
		ModelID:       model.ID,
		ProviderID:    provider.ID,
		IsTopProvider: m.TopProvider != nil,
	}
	if m.TopProvider != nil {
		if meta, err := json.Marshal(m.TopProvider); err == nil {
			metaStr := string(meta)
			link.ProviderMetadata = &metaStr
		}
	}
	return s.store.LinkModelProvider(ctx, &link)
}

// deriveHomepage extracts scheme+host from the first non-empty URL field of
// the provider feed entry.
func deriveHomepage(p schemas.AggregatorProvider) string {
	for _, candidate := range []*string{p.PrivacyPolicyURL, p.TermsOfServiceURL, p.StatusPageURL} {
		if candidate == nil || strings.TrimSpace(*candidate) == "" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(*candidate))
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		return u.Scheme + "://" + u.Host
	}
	return ""
}

// derivePricingURL consults the static map first, then defaults to
// {homepage}/pricing, and stays empty when neither is possible.
func derivePricingURL(slug string, homepage *string) string {
	if u, ok := pricingURLBySlug[slug]; ok {
		return u
	}
	if homepage != nil && *homepage != "" {
		return strings.TrimSuffix(*homepage, "/") + "/pricing"
	}
	return ""
}
