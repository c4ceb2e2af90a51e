// Package validate sanity-checks normalised prices and detects significant
// changes against the prior authoritative snapshot.
package validate

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/g2scv/llm-cost/normalize"
	"github.com/g2scv/llm-cost/schemas"
)

// Validator applies the configured price cap and change threshold.
type Validator struct {
	priceCap           decimal.Decimal
	changeThresholdPct decimal.Decimal
	logger             zerolog.Logger
}

// New creates a Validator. priceCap and thresholdPct are USD-per-1M and
// percent respectively.
func New(priceCap, thresholdPct decimal.Decimal, logger zerolog.Logger) *Validator {
	return &Validator{
		priceCap:           priceCap,
		changeThresholdPct: thresholdPct,
		logger:             logger,
	}
}

// ValidatePricing checks the headline token prices of a snapshot candidate.
// ok=false means the snapshot must not be written. Warnings accompany
// ok=true and are attached to the snapshot notes.
func (v *Validator) ValidatePricing(prompt, completion decimal.NullDecimal, modelSlug string, hasImagePricing bool) (bool, []string) {
	var warnings []string

	// Normalisation already maps negatives to NULL; this guards the path
	// where a caller constructs fields directly.
	for _, f := range []struct {
		name  string
		value decimal.NullDecimal
	}{{"prompt", prompt}, {"completion", completion}} {
		if f.value.Valid && f.value.Decimal.IsNegative() {
			v.logger.Warn().
				Str("model", modelSlug).
				Str("field", f.name).
				Str("value", f.value.Decimal.String()).
				Msg("negative_price_rejected")
			return false, nil
		}
	}

	if prompt.Valid && prompt.Decimal.GreaterThan(v.priceCap) {
		warnings = append(warnings, fmt.Sprintf("prompt price %s exceeds cap %s", prompt.Decimal.String(), v.priceCap.String()))
	}
	if completion.Valid && completion.Decimal.GreaterThan(v.priceCap) {
		warnings = append(warnings, fmt.Sprintf("completion price %s exceeds cap %s", completion.Decimal.String(), v.priceCap.String()))
	}

	if prompt.Valid && completion.Valid && completion.Decimal.LessThan(prompt.Decimal) {
		if hasImagePricing {
			// Legitimate for image-capable models.
			v.logger.Debug().
				Str("model", modelSlug).
				Str("prompt", prompt.Decimal.String()).
				Str("completion", completion.Decimal.String()).
				Msg("completion_below_prompt_for_image_model")
		} else {
			warnings = append(warnings, fmt.Sprintf("completion price %s below prompt price %s", completion.Decimal.String(), prompt.Decimal.String()))
		}
	}

	for _, w := range warnings {
		v.logger.Warn().Str("model", modelSlug).Str("warning", w).Msg("pricing_validation_warning")
	}
	return true, warnings
}

// Change describes one field whose price moved past the threshold.
type Change struct {
	Field      string
	Old        decimal.Decimal
	New        decimal.Decimal
	PercentAbs decimal.Decimal
}

// DetectChange compares a candidate against the most recent snapshot of the
// same source type and provider, emitting significant_price_change_detected
// for every headline field that moved more than the threshold. The write is
// never suppressed on a change.
func (v *Validator) DetectChange(prev, cur schemas.PricingFields, modelSlug, providerSlug string, sourceType schemas.SourceType) []Change {
	var changes []Change
	fields := []struct {
		name       string
		prevV, cur decimal.NullDecimal
	}{
		{"prompt_usd_per_million", prev.PromptUSDPerMillion, cur.PromptUSDPerMillion},
		{"completion_usd_per_million", prev.CompletionUSDPerMillion, cur.CompletionUSDPerMillion},
	}
	for _, f := range fields {
		pct := normalize.PriceChangePercent(f.prevV, f.cur)
		if !pct.Valid {
			continue
		}
		if pct.Decimal.Abs().GreaterThan(v.changeThresholdPct) {
			change := Change{
				Field:      f.name,
				Old:        f.prevV.Decimal,
				New:        f.cur.Decimal,
				PercentAbs: pct.Decimal.Abs(),
			}
			changes = append(changes, change)
			v.logger.Warn().
				Str("model", modelSlug).
				Str("provider", providerSlug).
				Str("source_type", string(sourceType)).
				Str("field", f.name).
				Str("old", change.Old.String()).
				Str("new", change.New.String()).
				Str("change_percent", pct.Decimal.StringFixed(2)).
				Msg("significant_price_change_detected")
		}
	}
	return changes
}
