// Package normalize converts raw upstream price quotes into the canonical
// USD-per-million-tokens representation using exact decimal arithmetic.
package normalize

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/schemas"
)

var (
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
	hundred  = decimal.NewFromInt(100)
)

func null() decimal.NullDecimal { return decimal.NullDecimal{} }

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// ParsePrice parses an absolute USD amount. Empty, unparseable, or negative
// input yields an invalid value; negative amounts are upstream sentinels for
// "dynamic routing / not applicable".
func ParsePrice(raw string) decimal.NullDecimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return null()
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return null()
	}
	if d.IsNegative() {
		return null()
	}
	return valid(d)
}

// IsSentinel reports whether raw parses to a negative amount.
func IsSentinel(raw string) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	return err == nil && d.IsNegative()
}

// PerTokenToPerMillion converts a per-single-token quote into USD per 1M
// tokens. Zero stays zero so free tiers remain expressible.
func PerTokenToPerMillion(raw string) decimal.NullDecimal {
	p := ParsePrice(raw)
	if !p.Valid {
		return p
	}
	return valid(p.Decimal.Mul(million))
}

// PerThousandToPerMillion converts a per-1K-tokens quote into USD per 1M
// tokens. Provider pages commonly quote per 1K.
func PerThousandToPerMillion(raw string) decimal.NullDecimal {
	p := ParsePrice(raw)
	if !p.Valid {
		return p
	}
	return valid(p.Decimal.Mul(thousand))
}

// FromAggregator normalises a catalogue pricing block. Token-denominated
// fields are scaled to per-1M; request, image and web_search pass through.
// Sentinel fields are traced per model.
func FromAggregator(p schemas.AggregatorPricing, logger zerolog.Logger, modelSlug string) schemas.PricingFields {
	perToken := func(field, raw string) decimal.NullDecimal {
		if IsSentinel(raw) {
			logger.Debug().
				Str("model", modelSlug).
				Str("field", field).
				Str("raw", raw).
				Msg("sentinel_pricing_value")
			return null()
		}
		return PerTokenToPerMillion(raw)
	}

	return schemas.PricingFields{
		PromptUSDPerMillion:            perToken("prompt", p.Prompt),
		CompletionUSDPerMillion:        perToken("completion", p.Completion),
		InternalReasoningUSDPerMillion: perToken("internal_reasoning", p.InternalReasoning),
		InputCacheReadUSDPerMillion:    perToken("input_cache_read", p.InputCacheRead),
		InputCacheWriteUSDPerMillion:   perToken("input_cache_write", p.InputCacheWrite),
		RequestUSD:                     ParsePrice(p.Request),
		ImageUSD:                       ParsePrice(p.Image),
		WebSearchUSD:                   ParsePrice(p.WebSearch),
	}
}

func maxNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case !a.Valid:
		return b
	case !b.Valid:
		return a
	case a.Decimal.GreaterThanOrEqual(b.Decimal):
		return a
	default:
		return b
	}
}

// MergeMax combines two price sets by taking the per-field maximum, ignoring
// absent values. Used when an adapter surfaces multiple tiers for the same
// model: the highest published price wins.
func MergeMax(a, b schemas.PricingFields) schemas.PricingFields {
	return schemas.PricingFields{
		PromptUSDPerMillion:            maxNull(a.PromptUSDPerMillion, b.PromptUSDPerMillion),
		CompletionUSDPerMillion:        maxNull(a.CompletionUSDPerMillion, b.CompletionUSDPerMillion),
		RequestUSD:                     maxNull(a.RequestUSD, b.RequestUSD),
		ImageUSD:                       maxNull(a.ImageUSD, b.ImageUSD),
		WebSearchUSD:                   maxNull(a.WebSearchUSD, b.WebSearchUSD),
		InternalReasoningUSDPerMillion: maxNull(a.InternalReasoningUSDPerMillion, b.InternalReasoningUSDPerMillion),
		InputCacheReadUSDPerMillion:    maxNull(a.InputCacheReadUSDPerMillion, b.InputCacheReadUSDPerMillion),
		InputCacheWriteUSDPerMillion:   maxNull(a.InputCacheWriteUSDPerMillion, b.InputCacheWriteUSDPerMillion),
	}
}

// PriceChangePercent computes the signed percentage change from prev to cur.
// The result is invalid when prev is absent or zero.
func PriceChangePercent(prev, cur decimal.NullDecimal) decimal.NullDecimal {
	if !prev.Valid || !cur.Valid || prev.Decimal.IsZero() {
		return null()
	}
	return valid(cur.Decimal.Sub(prev.Decimal).Div(prev.Decimal).Mul(hundred))
}
