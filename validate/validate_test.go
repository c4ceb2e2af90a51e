package validate

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/g2scv/llm-cost/schemas"
)

func d(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func newTestValidator() *Validator {
	return New(decimal.NewFromInt(10000), decimal.NewFromInt(30), zerolog.Nop())
}

func TestValidatePricingAcceptsNormalPair(t *testing.T) {
	v := newTestValidator()

	ok, warnings := v.ValidatePricing(d("3"), d("15"), "acme/model", false)
	assert.True(t, ok)
	assert.Empty(t, warnings)
}

func TestValidatePricingRejectsNegative(t *testing.T) {
	v := newTestValidator()

	neg := decimal.NullDecimal{Decimal: decimal.NewFromInt(-1), Valid: true}
	ok, warnings := v.ValidatePricing(neg, d("15"), "acme/model", false)
	assert.False(t, ok)
	assert.Empty(t, warnings)

	ok, _ = v.ValidatePricing(d("3"), neg, "acme/model", false)
	assert.False(t, ok)
}

func TestValidatePricingCapWarning(t *testing.T) {
	v := newTestValidator()

	ok, warnings := v.ValidatePricing(d("15000"), d("20000"), "acme/pricey", false)
	assert.True(t, ok, "cap breaches warn but never block the write")
	assert.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "exceeds cap")
}

func TestValidatePricingInversionWarning(t *testing.T) {
	v := newTestValidator()

	ok, warnings := v.ValidatePricing(d("10"), d("2"), "acme/model", false)
	assert.True(t, ok)
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "below prompt price")
}

func TestValidatePricingInversionQuietForImageModels(t *testing.T) {
	v := newTestValidator()

	// Image-capable models legitimately price completion below prompt.
	ok, warnings := v.ValidatePricing(d("10"), d("2"), "acme/vision-model", true)
	assert.True(t, ok)
	assert.Empty(t, warnings)
}

func TestDetectChangeAboveThreshold(t *testing.T) {
	v := newTestValidator()

	prev := schemas.PricingFields{PromptUSDPerMillion: d("1.25"), CompletionUSDPerMillion: d("5")}
	cur := schemas.PricingFields{PromptUSDPerMillion: d("15"), CompletionUSDPerMillion: d("5.5")}

	changes := v.DetectChange(prev, cur, "acme/model", "", schemas.SourceAggregatorAPI)
	assert.Len(t, changes, 1, "only the prompt field moved past the threshold")
	assert.Equal(t, "prompt_usd_per_million", changes[0].Field)
	assert.True(t, changes[0].Old.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, changes[0].New.Equal(decimal.NewFromInt(15)))
	assert.True(t, changes[0].PercentAbs.Equal(decimal.NewFromInt(1100)), "got %s", changes[0].PercentAbs)
}

func TestDetectChangeBelowThreshold(t *testing.T) {
	v := newTestValidator()

	prev := schemas.PricingFields{PromptUSDPerMillion: d("3"), CompletionUSDPerMillion: d("15")}
	cur := schemas.PricingFields{PromptUSDPerMillion: d("3.5"), CompletionUSDPerMillion: d("16")}

	changes := v.DetectChange(prev, cur, "acme/model", "", schemas.SourceAggregatorAPI)
	assert.Empty(t, changes)
}

func TestDetectChangeDecreaseCountsToo(t *testing.T) {
	v := newTestValidator()

	prev := schemas.PricingFields{PromptUSDPerMillion: d("10")}
	cur := schemas.PricingFields{PromptUSDPerMillion: d("5")}

	changes := v.DetectChange(prev, cur, "acme/model", "", schemas.SourceAggregatorAPI)
	assert.Len(t, changes, 1)
	assert.True(t, changes[0].PercentAbs.Equal(decimal.NewFromInt(50)))
}

func TestDetectChangeSkipsMissingBaseline(t *testing.T) {
	v := newTestValidator()

	prev := schemas.PricingFields{}
	cur := schemas.PricingFields{PromptUSDPerMillion: d("15")}
	assert.Empty(t, v.DetectChange(prev, cur, "acme/model", "", schemas.SourceAggregatorAPI))

	// Free-to-paid has no defined percentage either.
	prev = schemas.PricingFields{PromptUSDPerMillion: d("0")}
	assert.Empty(t, v.DetectChange(prev, cur, "acme/model", "", schemas.SourceAggregatorAPI))
}

func TestDetectChangeEmitsStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	v := New(decimal.NewFromInt(10000), decimal.NewFromInt(30), zerolog.New(&buf))

	prev := schemas.PricingFields{PromptUSDPerMillion: d("1.25")}
	cur := schemas.PricingFields{PromptUSDPerMillion: d("15")}
	v.DetectChange(prev, cur, "acme/model", "acme", schemas.SourceAggregatorAPI)

	out := buf.String()
	assert.Contains(t, out, "significant_price_change_detected")
	assert.Contains(t, out, `"change_percent":"1100.00"`)
	assert.Contains(t, out, `"source_type":"aggregator_api"`)
}
