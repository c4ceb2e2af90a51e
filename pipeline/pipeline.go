// Package pipeline orchestrates one pricing tick: discovery, per-model
// multi-source resolution with bounded parallelism, and BYOK spot checks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/g2scv/llm-cost/adapters"
	"github.com/g2scv/llm-cost/aggregator"
	"github.com/g2scv/llm-cost/config"
	"github.com/g2scv/llm-cost/discovery"
	"github.com/g2scv/llm-cost/normalize"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/store/tables"
	"github.com/g2scv/llm-cost/validate"
)

// Pipeline runs the pricing resolution for every catalogue model.
type Pipeline struct {
	cfg       *config.Config
	store     store.PricingStore
	client    *aggregator.Client
	registry  *adapters.Registry
	validator *validate.Validator
	discovery *discovery.Service
	logger    zerolog.Logger

	// now is injectable so tests can pin the snapshot date.
	now func() time.Time
}

// New wires a Pipeline from its collaborators.
func New(
	cfg *config.Config,
	pricingStore store.PricingStore,
	client *aggregator.Client,
	registry *adapters.Registry,
	validator *validate.Validator,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     pricingStore,
		client:    client,
		registry:  registry,
		validator: validator,
		discovery: discovery.New(pricingStore, client, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the pipeline clock. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

func (p *Pipeline) snapshotDate() string {
	return p.now().UTC().Format(tables.SnapshotDateLayout)
}

// Run executes one tick. Per-model failures are isolated; only discovery
// failures abort the tick.
func (p *Pipeline) Run(ctx context.Context) error {
	result, err := p.discovery.Run(ctx, p.cfg.ModelFilters)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxParallelModels)
	for _, m := range result.Models {
		m := m
		g.Go(func() error {
			p.processModel(gctx, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.runBYOKSpotChecks(ctx, result.Models)
	return nil
}

// processModel runs the resolution algorithm for one model, in precedence
// order: aggregator pricing, provider adapters, generic web fallback.
func (p *Pipeline) processModel(ctx context.Context, m schemas.AggregatorModel) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("model", m.Slug).Any("panic", r).Msg("model_processing_panicked")
		}
	}()

	model, err := p.store.GetModelBySlug(ctx, m.Slug)
	if err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("model_lookup_failed")
		return
	}

	wrote := p.storeAggregatorPricing(ctx, model, m)

	if p.cfg.EnableProviderScraping {
		if p.collectProviderPricing(ctx, model, m) {
			wrote = true
		}
	}

	if !wrote {
		p.webFallback(ctx, model, m)
	}
}

// storeAggregatorPricing writes the aggregator_api snapshot. Protected
// models with curated pricing override whatever the feed reports.
func (p *Pipeline) storeAggregatorPricing(ctx context.Context, model *tables.Model, m schemas.AggregatorModel) bool {
	var (
		fields schemas.PricingFields
		notes  []string
	)
	if protected, ok := p.cfg.ProtectedModels[m.Slug]; ok {
		fields = schemas.PricingFields{
			PromptUSDPerMillion:     decimal.NullDecimal{Decimal: protected.PromptUSDPerMillion, Valid: true},
			CompletionUSDPerMillion: decimal.NullDecimal{Decimal: protected.CompletionUSDPerMillion, Valid: true},
		}
		notes = append(notes, protected.Note)
	} else {
		fields = normalize.FromAggregator(m.Pricing, p.logger, m.Slug)
	}

	if !fields.HasTokenPricing() {
		p.logger.Info().
			Str("model", m.Slug).
			Str("source_type", string(schemas.SourceAggregatorAPI)).
			Msg("skipping_invalid_pricing")
		return false
	}

	hasImagePricing := fields.ImageUSD.Valid && !fields.ImageUSD.Decimal.IsZero()
	ok, warnings := p.validator.ValidatePricing(fields.PromptUSDPerMillion, fields.CompletionUSDPerMillion, m.Slug, hasImagePricing)
	if !ok {
		return false
	}

	p.detectChange(ctx, model.ID, nil, "", schemas.SourceAggregatorAPI, fields, m.Slug)

	sourceURL := p.cfg.AggregatorURL + "/models"
	snapshot := p.buildSnapshot(model.ID, nil, schemas.SourceAggregatorAPI, &sourceURL, fields, joinNotes(notes, warnings))
	if err := p.store.InsertPricingSnapshot(ctx, snapshot); err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("snapshot_write_failed")
		return false
	}
	return true
}

// collectProviderPricing resolves pricing from each linked provider's
// adapter. Multiple linked providers produce multiple same-day rows keyed by
// provider.
func (p *Pipeline) collectProviderPricing(ctx context.Context, model *tables.Model, m schemas.AggregatorModel) bool {
	links, err := p.store.ListModelProviders(ctx, model.ID)
	if err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("provider_links_lookup_failed")
		return false
	}

	wrote := false
	for _, link := range links {
		provider, err := p.store.GetProviderByID(ctx, link.ProviderID)
		if err != nil {
			continue
		}

		adapter := p.registry.Get(provider.Slug)
		result, err := adapter.Resolve(ctx, m.Name, m.Slug)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("model", m.Slug).
				Str("provider", provider.Slug).
				Msg("provider_resolution_failed")
			continue
		}
		if result == nil {
			continue
		}

		if p.writeAdapterResult(ctx, model, m, result, &provider.ID, provider.Slug, schemas.SourceProviderSite) {
			wrote = true
		}
	}
	return wrote
}

// webFallback is attempted only when no other source yielded a snapshot.
func (p *Pipeline) webFallback(ctx context.Context, model *tables.Model, m schemas.AggregatorModel) {
	result, err := p.registry.Generic().Resolve(ctx, m.Name, m.Slug)
	if err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("web_fallback_failed")
		return
	}
	if result == nil {
		return
	}
	p.writeAdapterResult(ctx, model, m, result, nil, "", schemas.SourceWebFallback)
}

func (p *Pipeline) writeAdapterResult(
	ctx context.Context,
	model *tables.Model,
	m schemas.AggregatorModel,
	result *schemas.PricingResult,
	providerID *uint,
	providerSlug string,
	sourceType schemas.SourceType,
) bool {
	fields := result.Fields()
	if !fields.HasTokenPricing() {
		return false
	}

	ok, warnings := p.validator.ValidatePricing(fields.PromptUSDPerMillion, fields.CompletionUSDPerMillion, m.Slug, false)
	if !ok {
		return false
	}

	p.detectChange(ctx, model.ID, providerID, providerSlug, sourceType, fields, m.Slug)

	var sourceURL *string
	if result.SourceURL != "" {
		sourceURL = &result.SourceURL
	}
	snapshot := p.buildSnapshot(model.ID, providerID, sourceType, sourceURL, fields, joinNotes(result.Notes, warnings))
	if err := p.store.InsertPricingSnapshot(ctx, snapshot); err != nil {
		p.logger.Warn().Err(err).
			Str("model", m.Slug).
			Str("source_type", string(sourceType)).
			Msg("snapshot_write_failed")
		return false
	}
	return true
}

// detectChange compares against the latest stored snapshot of the same
// source type and provider. Missing history is not an error.
func (p *Pipeline) detectChange(ctx context.Context, modelID uint, providerID *uint, providerSlug string, sourceType schemas.SourceType, cur schemas.PricingFields, modelSlug string) {
	prev, err := p.store.LatestPricing(ctx, modelID, providerID, string(sourceType))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn().Err(err).Str("model", modelSlug).Msg("latest_pricing_lookup_failed")
		}
		return
	}
	p.validator.DetectChange(fieldsFromSnapshot(prev), cur, modelSlug, providerSlug, sourceType)
}

func (p *Pipeline) buildSnapshot(modelID uint, providerID *uint, sourceType schemas.SourceType, sourceURL *string, fields schemas.PricingFields, notes *string) *tables.PricingSnapshot {
	return &tables.PricingSnapshot{
		ModelID:      modelID,
		ProviderID:   providerID,
		SnapshotDate: p.snapshotDate(),
		SourceType:   string(sourceType),
		SourceURL:    sourceURL,

		PromptUSDPerMillion:            fields.PromptUSDPerMillion,
		CompletionUSDPerMillion:        fields.CompletionUSDPerMillion,
		RequestUSD:                     fields.RequestUSD,
		ImageUSD:                       fields.ImageUSD,
		WebSearchUSD:                   fields.WebSearchUSD,
		InternalReasoningUSDPerMillion: fields.InternalReasoningUSDPerMillion,
		InputCacheReadUSDPerMillion:    fields.InputCacheReadUSDPerMillion,
		InputCacheWriteUSDPerMillion:   fields.InputCacheWriteUSDPerMillion,

		Currency:    schemas.CurrencyUSD,
		CollectedAt: p.now().UTC(),
		Notes:       notes,
	}
}

func fieldsFromSnapshot(s *tables.PricingSnapshot) schemas.PricingFields {
	return schemas.PricingFields{
		PromptUSDPerMillion:            s.PromptUSDPerMillion,
		CompletionUSDPerMillion:        s.CompletionUSDPerMillion,
		RequestUSD:                     s.RequestUSD,
		ImageUSD:                       s.ImageUSD,
		WebSearchUSD:                   s.WebSearchUSD,
		InternalReasoningUSDPerMillion: s.InternalReasoningUSDPerMillion,
		InputCacheReadUSDPerMillion:    s.InputCacheReadUSDPerMillion,
		InputCacheWriteUSDPerMillion:   s.InputCacheWriteUSDPerMillion,
	}
}

func joinNotes(notes []string, warnings []string) *string {
	var parts []string
	if len(notes) > 0 {
		parts = append(parts, strings.Join(notes, "; "))
	}
	if len(warnings) > 0 {
		parts = append(parts, "Warnings: "+strings.Join(warnings, "; "))
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, " | ")
	return &joined
}
