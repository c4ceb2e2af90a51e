package backendsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/config"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/store/tables"
)

// Syncer drives the projection protocol: stage, upsert, deactivate missing,
// protect, and default selection.
type Syncer struct {
	cfg     *config.Config
	pricing store.PricingStore
	backend BackendStore
	logger  zerolog.Logger

	// now is injectable so tests can pin the freshness window.
	now func() time.Time
}

// New creates a Syncer.
func New(cfg *config.Config, pricing store.PricingStore, backend BackendStore, logger zerolog.Logger) *Syncer {
	return &Syncer{
		cfg:     cfg,
		pricing: pricing,
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the sync clock. Test hook.
func (s *Syncer) SetClock(now func() time.Time) { s.now = now }

func (s *Syncer) freshnessSince() string {
	return s.now().UTC().
		AddDate(0, 0, -s.cfg.BackendFreshnessDays).
		Format(tables.SnapshotDateLayout)
}

// MissingInBackend returns slugs that have recent aggregator pricing but no
// projection row yet.
func (s *Syncer) MissingInBackend(ctx context.Context) ([]string, error) {
	recent, err := s.pricing.RecentPricedModelSlugs(ctx, string(schemas.SourceAggregatorAPI), s.freshnessSince())
	if err != nil {
		return nil, fmt.Errorf("failed to list recently priced models: %w", err)
	}
	rows, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backend models: %w", err)
	}
	known := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		known[r.ModelSlug] = struct{}{}
	}
	var missing []string
	for _, slug := range recent {
		if _, ok := known[slug]; !ok {
			missing = append(missing, slug)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// Run executes one full projection sync.
func (s *Syncer) Run(ctx context.Context) error {
	staged, err := s.stage(ctx)
	if err != nil {
		return err
	}

	// Models already priced but absent from the backend bypass the staging
	// filters so the projection converges.
	if err := s.fillMissing(ctx, &staged); err != nil {
		return err
	}

	assignSortOrder(staged)

	stagedSlugs := make(map[string]struct{}, len(staged))
	for _, c := range staged {
		if err := s.backend.Upsert(ctx, c.row); err != nil {
			s.logger.Warn().Err(err).Str("model", c.row.ModelSlug).Msg("backend_upsert_failed")
			continue
		}
		stagedSlugs[c.row.ModelSlug] = struct{}{}
	}

	if err := s.deactivateMissing(ctx, stagedSlugs); err != nil {
		return err
	}
	if err := s.protect(ctx); err != nil {
		return err
	}
	return s.applyDefaults(ctx, staged)
}

// deactivateMissing disables backend rows whose models vanished from the
// staged set, sparing the protected set.
func (s *Syncer) deactivateMissing(ctx context.Context, stagedSlugs map[string]struct{}) error {
	rows, err := s.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backend models: %w", err)
	}

	var toDeactivate, protectedSkipped []string
	for _, r := range rows {
		if _, ok := stagedSlugs[r.ModelSlug]; ok {
			continue
		}
		if _, protected := s.cfg.ProtectedModels[r.ModelSlug]; protected {
			protectedSkipped = append(protectedSkipped, r.ModelSlug)
			continue
		}
		toDeactivate = append(toDeactivate, r.ModelSlug)
	}

	if len(protectedSkipped) > 0 {
		s.logger.Info().Strs("models", protectedSkipped).Msg("skipping_deactivation_for_protected_models")
	}
	if len(toDeactivate) > 0 {
		s.logger.Info().Strs("models", toDeactivate).Msg("deactivating_models_missing_upstream")
		if err := s.backend.Deactivate(ctx, toDeactivate); err != nil {
			return fmt.Errorf("failed to deactivate models: %w", err)
		}
	}
	return nil
}

// protect guarantees every protected slug exists and is active, inserting
// the curated row when the feed never staged it.
func (s *Syncer) protect(ctx context.Context) error {
	for slug, pricing := range s.cfg.ProtectedModels {
		row, err := s.backend.GetBySlug(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			if err := s.backend.Insert(ctx, s.protectedRow(slug, pricing)); err != nil {
				return fmt.Errorf("failed to insert protected model %s: %w", slug, err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if !row.IsActive {
			if err := s.backend.Activate(ctx, slug); err != nil {
				return fmt.Errorf("failed to activate protected model %s: %w", slug, err)
			}
		}
	}
	return nil
}

func (s *Syncer) protectedRow(slug string, pricing schemas.ProtectedPricing) *ActiveModel {
	meta := metadataJSON(rowMetadata{
		Tier:     deriveTier(decimal.NullDecimal{Decimal: pricing.PromptUSDPerMillion, Valid: true}),
		Series:   seriesOf(slug),
		Provider: namespaceOf(slug),
		Source:   "protection_map",
	})
	return &ActiveModel{
		ModelSlug:            slug,
		DisplayName:          nameOf(slug),
		Provider:             namespaceOf(slug),
		ModelType:            deriveModelType(slug),
		CostPerMillionInput:  decimal.NullDecimal{Decimal: pricing.PromptUSDPerMillion, Valid: true},
		CostPerMillionOutput: decimal.NullDecimal{Decimal: pricing.CompletionUSDPerMillion, Valid: true},
		IsActive:             true,
		Metadata:             meta,
	}
}

// applyDefaults ensures each model type has a default row. Configured
// defaults win; otherwise the cheapest paid chat model and the first
// embedding model are chosen.
func (s *Syncer) applyDefaults(ctx context.Context, staged []candidate) error {
	rows, err := s.backend.List(ctx)
	if err != nil {
		return err
	}
	hasDefault := map[string]bool{}
	for _, r := range rows {
		if r.IsDefault && r.IsActive {
			hasDefault[r.ModelType] = true
		}
	}

	forced := map[string]string{
		ModelTypeChat:      s.cfg.DefaultChatModelID,
		ModelTypeEmbedding: s.cfg.DefaultEmbeddingModelID,
	}
	for modelType, slug := range forced {
		if slug == "" {
			continue
		}
		if err := s.backend.SetDefault(ctx, slug); err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn().Str("model", slug).Str("model_type", modelType).Msg("configured_default_model_not_found")
				continue
			}
			return err
		}
		hasDefault[modelType] = true
	}

	for _, modelType := range []string{ModelTypeChat, ModelTypeEmbedding} {
		if hasDefault[modelType] {
			continue
		}
		slug := pickDefault(staged, modelType)
		if slug == "" {
			continue
		}
		if err := s.backend.SetDefault(ctx, slug); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// pickDefault chooses the cheapest paid candidate of the type; embedding
// falls back to the first candidate.
func pickDefault(staged []candidate, modelType string) string {
	var (
		best     string
		bestCost decimal.Decimal
	)
	for _, c := range staged {
		if c.row.ModelType != modelType {
			continue
		}
		cost := c.row.CostPerMillionInput
		if modelType == ModelTypeChat {
			if !cost.Valid || !cost.Decimal.IsPositive() {
				continue
			}
			if best == "" || cost.Decimal.LessThan(bestCost) {
				best = c.row.ModelSlug
				bestCost = cost.Decimal
			}
		} else if best == "" {
			best = c.row.ModelSlug
		}
	}
	return best
}

// fillMissing stages models that have recent pricing but no backend row,
// bypassing the staging filters.
func (s *Syncer) fillMissing(ctx context.Context, staged *[]candidate) error {
	missing, err := s.MissingInBackend(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	alreadyStaged := make(map[string]struct{}, len(*staged))
	for _, c := range *staged {
		alreadyStaged[c.row.ModelSlug] = struct{}{}
	}

	since := s.freshnessSince()
	for _, slug := range missing {
		if _, ok := alreadyStaged[slug]; ok {
			continue
		}
		model, err := s.pricing.GetModelBySlug(ctx, slug)
		if err != nil {
			s.logger.Warn().Err(err).Str("model", slug).Msg("missing_model_lookup_failed")
			continue
		}
		snap, err := s.pricing.LatestPricingSince(ctx, model.ID, string(schemas.SourceAggregatorAPI), since)
		if err != nil {
			continue
		}
		c, err := s.buildCandidate(ctx, *model, snap)
		if err != nil {
			s.logger.Warn().Err(err).Str("model", slug).Msg("missing_model_staging_failed")
			continue
		}
		*staged = append(*staged, c)
	}
	return nil
}
