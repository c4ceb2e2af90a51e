// Package adapters resolves (provider, model) pairs to published pricing.
// A registry hands out provider-specific adapters where one exists and a
// generic web-search fallback otherwise.
package adapters

import (
	"context"

	"github.com/g2scv/llm-cost/schemas"
)

// ProviderAdapter resolves pricing for one provider's models. A nil result
// with nil error means "no credible pricing found"; the pipeline moves on.
type ProviderAdapter interface {
	// Slug is the provider slug this adapter serves.
	Slug() string

	// Resolve looks up pricing for the given model. modelName is the
	// display name, modelSlug the catalogue slug (namespace/name).
	Resolve(ctx context.Context, modelName, modelSlug string) (*schemas.PricingResult, error)
}

// SearchResult is one hit from the web-search backend.
type SearchResult struct {
	Title       string
	URL         string
	Description string
}

// SearchFunc issues a web search. Implementations own their rate limiting.
type SearchFunc func(ctx context.Context, query string) ([]SearchResult, error)
