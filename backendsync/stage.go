package backendsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/store/tables"
)

// Tier thresholds on cost_per_million_input.
var (
	tierPremiumFloor  = decimal.NewFromInt(1000)
	tierStandardFloor = decimal.NewFromInt(200)
)

const (
	maxDescriptionChars     = 240
	maxDescriptionSentences = 2
)

// candidate pairs a staged row with the cost used for ordering.
type candidate struct {
	row      *ActiveModel
	sortCost decimal.Decimal
}

// stage reads every model with a fresh aggregator snapshot and builds the
// projection candidates. Non-text models and free models are excluded here;
// fillMissing bypasses both filters.
func (s *Syncer) stage(ctx context.Context) ([]candidate, error) {
	models, err := s.pricing.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	since := s.freshnessSince()
	var staged []candidate
	for _, model := range models {
		snap, err := s.pricing.LatestPricingSince(ctx, model.ID, string(schemas.SourceAggregatorAPI), since)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn().Err(err).Str("model", model.Slug).Msg("staging_snapshot_lookup_failed")
			}
			continue
		}
		if !isTextToText(model.Architecture) {
			continue
		}
		if !hasPositiveComponent(snap) {
			continue
		}
		c, err := s.buildCandidate(ctx, model, snap)
		if err != nil {
			s.logger.Warn().Err(err).Str("model", model.Slug).Msg("staging_failed")
			continue
		}
		staged = append(staged, c)
	}
	return staged, nil
}

// buildCandidate denormalises one model plus its latest snapshot into a
// projection row.
func (s *Syncer) buildCandidate(ctx context.Context, model tables.Model, snap *tables.PricingSnapshot) (candidate, error) {
	provider, maxOutputTokens := s.deriveProvider(ctx, model)

	params := supportedParams(model.SupportedParameters)
	arch := parseArchitecture(model.Architecture)
	caps := capabilities{
		Tools:     params["tools"] || params["tool_choice"],
		Vision:    contains(arch.InputModalities, "image"),
		Reasoning: params["reasoning"] || params["include_reasoning"],
		WebSearch: params["web_search_options"] || snap.WebSearchUSD.Valid,
		Audio:     contains(arch.InputModalities, "audio"),
		Video:     contains(arch.InputModalities, "video"),
	}

	row := &ActiveModel{
		ModelSlug:            model.Slug,
		DisplayName:          model.DisplayName,
		Provider:             provider,
		ModelType:            deriveModelType(model.Slug),
		ContextWindow:        model.ContextLength,
		MaxOutputTokens:      maxOutputTokens,
		CostPerMillionInput:  snap.PromptUSDPerMillion,
		CostPerMillionOutput: snap.CompletionUSDPerMillion,
		IsActive:             true,
		IsThinkingModel:      caps.Reasoning,
		Capabilities:         capabilitiesJSON(caps),
	}

	meta := rowMetadata{
		Tier:     deriveTier(snap.PromptUSDPerMillion),
		Series:   seriesOf(model.Slug),
		Provider: provider,
		Source:   snap.SourceType,
	}
	if model.HuggingFaceID != nil {
		meta.HuggingFaceID = *model.HuggingFaceID
	}
	if model.Description != nil {
		meta.Description = truncateDescription(*model.Description)
	}
	row.Metadata = metadataJSON(meta)

	return candidate{row: row, sortCost: sortCost(snap)}, nil
}

// deriveProvider prefers the top provider link's slug, then any link, then
// the slug's namespace prefix.
func (s *Syncer) deriveProvider(ctx context.Context, model tables.Model) (string, *int) {
	links, err := s.pricing.ListModelProviders(ctx, model.ID)
	if err != nil || len(links) == 0 {
		return namespaceOf(model.Slug), nil
	}

	chosen := links[0]
	for _, l := range links {
		if l.IsTopProvider {
			chosen = l
			break
		}
	}

	var maxOutputTokens *int
	if chosen.ProviderMetadata != nil {
		var meta struct {
			MaxCompletionTokens *int `json:"max_completion_tokens"`
		}
		if json.Unmarshal([]byte(*chosen.ProviderMetadata), &meta) == nil {
			maxOutputTokens = meta.MaxCompletionTokens
		}
	}

	provider, err := s.pricing.GetProviderByID(ctx, chosen.ProviderID)
	if err != nil {
		return namespaceOf(model.Slug), maxOutputTokens
	}
	return provider.Slug, maxOutputTokens
}

// assignSortOrder sorts candidates by descending cost and spaces sort_order
// in steps of 5 from 100 down, clamping at 0.
func assignSortOrder(staged []candidate) {
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].sortCost.GreaterThan(staged[j].sortCost)
	})
	for i := range staged {
		order := 100 - i*5
		if order < 0 {
			order = 0
		}
		staged[i].row.SortOrder = order
	}
}

func sortCost(snap *tables.PricingSnapshot) decimal.Decimal {
	cost := decimal.Zero
	if snap.PromptUSDPerMillion.Valid {
		cost = snap.PromptUSDPerMillion.Decimal
	}
	if snap.CompletionUSDPerMillion.Valid && snap.CompletionUSDPerMillion.Decimal.GreaterThan(cost) {
		cost = snap.CompletionUSDPerMillion.Decimal
	}
	return cost
}

func hasPositiveComponent(snap *tables.PricingSnapshot) bool {
	return (snap.PromptUSDPerMillion.Valid && snap.PromptUSDPerMillion.Decimal.IsPositive()) ||
		(snap.CompletionUSDPerMillion.Valid && snap.CompletionUSDPerMillion.Decimal.IsPositive())
}

type capabilities struct {
	Tools     bool `json:"tools"`
	Vision    bool `json:"vision"`
	Reasoning bool `json:"reasoning"`
	WebSearch bool `json:"web_search"`
	Audio     bool `json:"audio"`
	Video     bool `json:"video"`
}

func capabilitiesJSON(c capabilities) *string {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

type rowMetadata struct {
	Tier          string `json:"tier"`
	Series        string `json:"series"`
	Provider      string `json:"provider"`
	HuggingFaceID string `json:"hugging_face_id,omitempty"`
	Source        string `json:"source"`
	Description   string `json:"description,omitempty"`
}

func metadataJSON(m rowMetadata) *string {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// deriveTier classifies by input cost per million.
func deriveTier(input decimal.NullDecimal) string {
	if !input.Valid {
		return TierBudget
	}
	switch {
	case input.Decimal.GreaterThanOrEqual(tierPremiumFloor):
		return TierPremium
	case input.Decimal.GreaterThanOrEqual(tierStandardFloor):
		return TierStandard
	default:
		return TierBudget
	}
}

// deriveModelType keys off the slug: embedding-family names are embeddings,
// everything else is chat.
func deriveModelType(slug string) string {
	lower := strings.ToLower(slug)
	for _, marker := range []string{"embedding", "embed", "vector"} {
		if strings.Contains(lower, marker) {
			return ModelTypeEmbedding
		}
	}
	return ModelTypeChat
}

func namespaceOf(slug string) string {
	if ns, _, ok := strings.Cut(slug, "/"); ok && ns != "" {
		return ns
	}
	return slug
}

func nameOf(slug string) string {
	if _, name, ok := strings.Cut(slug, "/"); ok && name != "" {
		return name
	}
	return slug
}

// seriesOf extracts the model family, e.g. "gpt" from openai/gpt-4o.
func seriesOf(slug string) string {
	name := nameOf(slug)
	if series, _, ok := strings.Cut(name, "-"); ok && series != "" {
		return series
	}
	return name
}

func supportedParams(raw *string) map[string]bool {
	params := map[string]bool{}
	if raw == nil {
		return params
	}
	var list []string
	if json.Unmarshal([]byte(*raw), &list) != nil {
		return params
	}
	for _, p := range list {
		params[p] = true
	}
	return params
}

type architecture struct {
	Modality         string   `json:"modality"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
}

func parseArchitecture(raw *string) architecture {
	var arch architecture
	if raw != nil {
		_ = json.Unmarshal([]byte(*raw), &arch)
	}
	return arch
}

// isTextToText accepts models without architecture data; the projection
// serves text workloads so image and audio generators are excluded.
func isTextToText(raw *string) bool {
	if raw == nil {
		return true
	}
	arch := parseArchitecture(raw)
	if len(arch.InputModalities) == 0 && len(arch.OutputModalities) == 0 {
		return true
	}
	return contains(arch.InputModalities, "text") && contains(arch.OutputModalities, "text")
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// truncateDescription keeps at most two sentences and 240 characters.
func truncateDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ""
	}
	sentences := strings.SplitAfter(desc, ". ")
	if len(sentences) > maxDescriptionSentences {
		desc = strings.TrimSpace(strings.Join(sentences[:maxDescriptionSentences], ""))
	}
	if len(desc) > maxDescriptionChars {
		desc = strings.TrimSpace(desc[:maxDescriptionChars])
	}
	return desc
}
