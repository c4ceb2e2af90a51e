// Package schemas defines the core types shared across the pricing pipeline.
package schemas

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SourceType labels the origin of a pricing snapshot.
type SourceType string

const (
	SourceAggregatorAPI SourceType = "aggregator_api"
	SourceProviderSite  SourceType = "provider_site"
	SourceWebFallback   SourceType = "web_fallback"
)

// Currency is fixed; non-USD sources are discarded upstream of persistence.
const CurrencyUSD = "USD"

// AggregatorPricing carries the raw pricing block of a catalogue entry.
// Token-denominated fields are quoted per single token; request, image and
// web_search are absolute amounts.
type AggregatorPricing struct {
	Prompt            string `json:"prompt"`
	Completion        string `json:"completion"`
	Request           string `json:"request"`
	Image             string `json:"image"`
	WebSearch         string `json:"web_search"`
	InternalReasoning string `json:"internal_reasoning"`
	InputCacheRead    string `json:"input_cache_read"`
	InputCacheWrite   string `json:"input_cache_write"`
}

// Architecture describes a model's modality support as reported upstream.
type Architecture struct {
	Modality         string   `json:"modality"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
	Tokenizer        string   `json:"tokenizer"`
}

// TopProvider is the aggregator's designated primary host for a model.
type TopProvider struct {
	ContextLength       *int `json:"context_length"`
	MaxCompletionTokens *int `json:"max_completion_tokens"`
	IsModerated         bool `json:"is_moderated"`
}

// AggregatorModel is one catalogue entry from the aggregator's models feed.
type AggregatorModel struct {
	Slug                string            `json:"id"`
	CanonicalSlug       string            `json:"canonical_slug"`
	HuggingFaceID       string            `json:"hugging_face_id"`
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	ContextLength       *int              `json:"context_length"`
	Architecture        Architecture      `json:"architecture"`
	Pricing             AggregatorPricing `json:"pricing"`
	TopProvider         *TopProvider      `json:"top_provider"`
	SupportedParameters []string          `json:"supported_parameters"`
}

// AggregatorProvider is one entry from the aggregator's providers feed.
type AggregatorProvider struct {
	Name              string  `json:"name"`
	Slug              string  `json:"slug"`
	PrivacyPolicyURL  *string `json:"privacy_policy_url"`
	TermsOfServiceURL *string `json:"terms_of_service_url"`
	StatusPageURL     *string `json:"status_page_url"`
}

// ModelFilters narrows the catalogue to models the pipeline should price.
type ModelFilters struct {
	SupportedParameters []string
	Distillable         *bool
	InputModalities     []string
	OutputModalities    []string
}

// PricingFields holds a fully normalised set of prices in USD per one
// million tokens (token-denominated fields) or absolute USD (the rest).
// An invalid NullDecimal means "unknown / not applicable".
type PricingFields struct {
	PromptUSDPerMillion            decimal.NullDecimal
	CompletionUSDPerMillion        decimal.NullDecimal
	RequestUSD                     decimal.NullDecimal
	ImageUSD                       decimal.NullDecimal
	WebSearchUSD                   decimal.NullDecimal
	InternalReasoningUSDPerMillion decimal.NullDecimal
	InputCacheReadUSDPerMillion    decimal.NullDecimal
	InputCacheWriteUSDPerMillion   decimal.NullDecimal
}

// HasTokenPricing reports whether at least one of the two token-denominated
// headline fields is present.
func (p PricingFields) HasTokenPricing() bool {
	return p.PromptUSDPerMillion.Valid || p.CompletionUSDPerMillion.Valid
}

// PricingResult is what a provider adapter resolves for a (provider, model)
// pair. Fields follow PricingFields conventions.
type PricingResult struct {
	PromptUSDPerMillion     decimal.NullDecimal
	CompletionUSDPerMillion decimal.NullDecimal
	RequestUSD              decimal.NullDecimal
	SourceURL               string
	Notes                   []string
}

// Fields converts an adapter result into the common normalised shape.
func (r *PricingResult) Fields() PricingFields {
	return PricingFields{
		PromptUSDPerMillion:     r.PromptUSDPerMillion,
		CompletionUSDPerMillion: r.CompletionUSDPerMillion,
		RequestUSD:              r.RequestUSD,
	}
}

// UsageReport is the outcome of a tiny BYOK spot-check call.
type UsageReport struct {
	ModelSlug         string
	PromptTokens      int
	CompletionTokens  int
	AggregatorCostUSD decimal.NullDecimal
	UpstreamCostUSD   decimal.NullDecimal
	ResponseMS        int64
	RawUsage          json.RawMessage
}

// ProtectedPricing is the curated price pair used for protected models that
// the upstream feed does not price.
type ProtectedPricing struct {
	PromptUSDPerMillion     decimal.Decimal
	CompletionUSDPerMillion decimal.Decimal
	Note                    string
}
