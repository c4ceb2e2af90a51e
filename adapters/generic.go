package adapters

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
)

// Extraction bounds: values outside this window are noise, not prices.
var (
	minCredible = decimal.RequireFromString("0.01")
	maxCredible = decimal.NewFromInt(10000)

	// Output below half the input price is implausible for published
	// per-token rates and usually means the regex grabbed the wrong pair.
	plausibilityRatio = decimal.RequireFromString("0.5")
)

var (
	reInputPerMillion    = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:m|million)\s*(?:input|prompt)\s*tokens`)
	reOutputPerMillion   = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:m|million)\s*(?:output|completion)\s*tokens`)
	reInputPerThousand   = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:k|thousand)\s*(?:input|prompt)\s*tokens`)
	reOutputPerThousand  = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:k|thousand)\s*(?:output|completion)\s*tokens`)
	reInputOutputPair    = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:input|prompt)[^$]{0,60}?\$(\d+(?:\.\d+)?)\s*(?:output|completion)`)
	reCombinedPerMillion = regexp.MustCompile(`(?i)\$(\d+(?:\.\d+)?)\s*(?:/|per)\s*(?:1\s*)?(?:m|million)\s*tokens`)
)

// GenericWebAdapter is the fallback resolver. It searches the web for the
// model's published pricing and extracts dollar amounts from trusted domains
// only.
type GenericWebAdapter struct {
	search         SearchFunc
	trustedDomains []string
	logger         zerolog.Logger
}

// NewGenericWebAdapter creates the fallback adapter. search may be nil when
// no web-search credential is configured; Resolve then returns no result.
func NewGenericWebAdapter(search SearchFunc, trustedDomains []string, logger zerolog.Logger) *GenericWebAdapter {
	return &GenericWebAdapter{
		search:         search,
		trustedDomains: trustedDomains,
		logger:         logger,
	}
}

// Slug identifies the fallback adapter.
func (g *GenericWebAdapter) Slug() string { return "generic" }

// Resolve searches without a provider scope.
func (g *GenericWebAdapter) Resolve(ctx context.Context, modelName, modelSlug string) (*schemas.PricingResult, error) {
	return g.ResolveForProvider(ctx, "", modelName, modelSlug)
}

// ResolveForProvider searches with the provider name in the query. Returns
// (nil, nil) when no credible pricing is found; search failures are logged
// and tolerated.
func (g *GenericWebAdapter) ResolveForProvider(ctx context.Context, provider, modelName, modelSlug string) (*schemas.PricingResult, error) {
	if g.search == nil {
		return nil, nil
	}

	queries := []string{
		strings.TrimSpace(fmt.Sprintf(`%s "%s" API pricing per million tokens`, provider, modelName)),
		strings.TrimSpace(fmt.Sprintf(`%s %s price per 1M input output tokens`, provider, modelName)),
	}

	var (
		bestInput, bestOutput decimal.NullDecimal
		sourceURL             string
		notes                 []string
	)

	for _, query := range queries {
		results, err := g.search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn().Err(err).Str("query", query).Msg("web_search_failed")
			continue
		}
		for _, r := range results {
			if !g.isTrusted(r.URL) {
				continue
			}
			input, output, combined := extractPrices(r.Title + " " + r.Description)
			if combined.Valid && !input.Valid && !output.Valid {
				input, output = combined, combined
				notes = appendOnce(notes, "single combined rate applied to both input and output")
			}
			if input.Valid && output.Valid && output.Decimal.LessThan(input.Decimal.Mul(plausibilityRatio)) {
				g.logger.Debug().
					Str("model", modelSlug).
					Str("url", r.URL).
					Str("input", input.Decimal.String()).
					Str("output", output.Decimal.String()).
					Msg("implausible_price_pair_skipped")
				continue
			}
			if input.Valid && (!bestInput.Valid || input.Decimal.GreaterThan(bestInput.Decimal)) {
				bestInput = input
				sourceURL = r.URL
			}
			if output.Valid && (!bestOutput.Valid || output.Decimal.GreaterThan(bestOutput.Decimal)) {
				bestOutput = output
				if sourceURL == "" {
					sourceURL = r.URL
				}
			}
		}
		if bestInput.Valid && bestOutput.Valid {
			break
		}
	}

	if !bestInput.Valid && !bestOutput.Valid {
		return nil, nil
	}
	return &schemas.PricingResult{
		PromptUSDPerMillion:     bestInput,
		CompletionUSDPerMillion: bestOutput,
		SourceURL:               sourceURL,
		Notes:                   notes,
	}, nil
}

func (g *GenericWebAdapter) isTrusted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, domain := range g.trustedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func credible(raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if d.LessThan(minCredible) || d.GreaterThan(maxCredible) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func credibleScaled(raw string, factor decimal.Decimal) decimal.NullDecimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	scaled := d.Mul(factor)
	if scaled.LessThan(minCredible) || scaled.GreaterThan(maxCredible) {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: scaled, Valid: true}
}

var thousandToMillion = decimal.NewFromInt(1000)

// extractPrices pulls per-million input/output prices out of a text snippet.
// combined is set when the snippet quotes one undifferentiated token rate.
func extractPrices(text string) (input, output, combined decimal.NullDecimal) {
	if m := reInputPerMillion.FindStringSubmatch(text); m != nil {
		input = credible(m[1])
	}
	if m := reOutputPerMillion.FindStringSubmatch(text); m != nil {
		output = credible(m[1])
	}
	if !input.Valid {
		if m := reInputPerThousand.FindStringSubmatch(text); m != nil {
			input = credibleScaled(m[1], thousandToMillion)
		}
	}
	if !output.Valid {
		if m := reOutputPerThousand.FindStringSubmatch(text); m != nil {
			output = credibleScaled(m[1], thousandToMillion)
		}
	}
	if !input.Valid && !output.Valid {
		if m := reInputOutputPair.FindStringSubmatch(text); m != nil {
			input = credible(m[1])
			output = credible(m[2])
		}
	}
	if !input.Valid && !output.Valid {
		if m := reCombinedPerMillion.FindStringSubmatch(text); m != nil {
			combined = credible(m[1])
		}
	}
	return input, output, combined
}

func appendOnce(notes []string, note string) []string {
	for _, n := range notes {
		if n == note {
			return notes
		}
	}
	return append(notes, note)
}
