package adapters

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
)

// knownPrice is a curated USD-per-1M pair used when live resolution finds
// nothing. Keys are matched as substrings of the lowercased model name,
// longest key first.
type knownPrice struct {
	prompt     string
	completion string
}

var openAIKnownPrices = map[string]knownPrice{
	"gpt-4o-mini":   {"0.15", "0.60"},
	"gpt-4o":        {"2.50", "10.00"},
	"gpt-4.1-nano":  {"0.10", "0.40"},
	"gpt-4.1-mini":  {"0.40", "1.60"},
	"gpt-4.1":       {"2.00", "8.00"},
	"gpt-3.5-turbo": {"0.50", "1.50"},
	"o4-mini":       {"1.10", "4.40"},
	"o3":            {"2.00", "8.00"},
}

var anthropicKnownPrices = map[string]knownPrice{
	"claude-3-5-haiku":  {"0.80", "4.00"},
	"claude-3-haiku":    {"0.25", "1.25"},
	"claude-3-5-sonnet": {"3.00", "15.00"},
	"claude-3-7-sonnet": {"3.00", "15.00"},
	"claude-sonnet-4":   {"3.00", "15.00"},
	"claude-opus-4":     {"15.00", "75.00"},
}

// SpecificAdapter resolves pricing for one well-known provider: web search
// first, curated fallback map second.
type SpecificAdapter struct {
	slug        string
	displayName string
	pricingURL  string
	known       map[string]knownPrice
	generic     *GenericWebAdapter
	logger      zerolog.Logger
}

// Slug is the provider slug this adapter serves.
func (a *SpecificAdapter) Slug() string { return a.slug }

// Resolve searches for live pricing and falls back to the curated map.
func (a *SpecificAdapter) Resolve(ctx context.Context, modelName, modelSlug string) (*schemas.PricingResult, error) {
	result, err := a.generic.ResolveForProvider(ctx, a.displayName, modelName, modelSlug)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return a.lookupKnown(modelName, modelSlug), nil
}

func (a *SpecificAdapter) lookupKnown(modelName, modelSlug string) *schemas.PricingResult {
	if len(a.known) == 0 {
		return nil
	}
	haystack := strings.ToLower(modelName + " " + modelSlug)

	keys := make([]string, 0, len(a.known))
	for k := range a.known {
		keys = append(keys, k)
	}
	// Longest key first so gpt-4o-mini wins over gpt-4o.
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		if !strings.Contains(haystack, key) {
			continue
		}
		price := a.known[key]
		a.logger.Debug().
			Str("model", modelSlug).
			Str("provider", a.slug).
			Str("matched", key).
			Msg("curated_fallback_pricing_used")
		return &schemas.PricingResult{
			PromptUSDPerMillion:     decimal.NullDecimal{Decimal: decimal.RequireFromString(price.prompt), Valid: true},
			CompletionUSDPerMillion: decimal.NullDecimal{Decimal: decimal.RequireFromString(price.completion), Valid: true},
			SourceURL:               a.pricingURL,
			Notes:                   []string{"curated fallback pricing"},
		}
	}
	return nil
}

// delegatingAdapter scopes the generic adapter to one provider's name for
// query building. Used by providers without a curated map.
type delegatingAdapter struct {
	slug        string
	displayName string
	generic     *GenericWebAdapter
}

func (d *delegatingAdapter) Slug() string { return d.slug }

func (d *delegatingAdapter) Resolve(ctx context.Context, modelName, modelSlug string) (*schemas.PricingResult, error) {
	return d.generic.ResolveForProvider(ctx, d.displayName, modelName, modelSlug)
}
