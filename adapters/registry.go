package adapters

import (
	"github.com/rs/zerolog"
)

// Registry maps provider slugs to adapters. Lookups for unknown providers
// return a generic adapter scoped to that provider. The registry is
// populated once at startup and safe for concurrent reads.
type Registry struct {
	adapters map[string]ProviderAdapter
	generic  *GenericWebAdapter
	logger   zerolog.Logger
}

// NewRegistry builds the adapter set. The search credential is bound into
// the adapters here; adapters never read ambient state.
func NewRegistry(search SearchFunc, trustedDomains []string, logger zerolog.Logger) *Registry {
	generic := NewGenericWebAdapter(search, trustedDomains, logger)

	r := &Registry{
		adapters: make(map[string]ProviderAdapter),
		generic:  generic,
		logger:   logger,
	}

	r.register(&SpecificAdapter{
		slug:        "openai",
		displayName: "OpenAI",
		pricingURL:  "https://openai.com/api/pricing/",
		known:       openAIKnownPrices,
		generic:     generic,
		logger:      logger,
	})
	r.register(&SpecificAdapter{
		slug:        "anthropic",
		displayName: "Anthropic",
		pricingURL:  "https://www.anthropic.com/pricing",
		known:       anthropicKnownPrices,
		generic:     generic,
		logger:      logger,
	})

	for slug, name := range map[string]string{
		"google":     "Google",
		"cohere":     "Cohere",
		"mistral":    "Mistral AI",
		"groq":       "Groq",
		"together":   "Together AI",
		"fireworks":  "Fireworks AI",
		"deepinfra":  "DeepInfra",
		"deepseek":   "DeepSeek",
		"perplexity": "Perplexity",
	} {
		r.register(&delegatingAdapter{slug: slug, displayName: name, generic: generic})
	}

	return r
}

func (r *Registry) register(a ProviderAdapter) {
	r.adapters[a.Slug()] = a
}

// Get returns the adapter for a provider slug, falling back to a generic
// adapter scoped to that provider.
func (r *Registry) Get(providerSlug string) ProviderAdapter {
	if a, ok := r.adapters[providerSlug]; ok {
		return a
	}
	return &delegatingAdapter{slug: providerSlug, displayName: providerSlug, generic: r.generic}
}

// Generic returns the unscoped fallback adapter used for web_fallback
// resolution.
func (r *Registry) Generic() *GenericWebAdapter {
	return r.generic
}
