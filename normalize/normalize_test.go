package normalize

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/g2scv/llm-cost/schemas"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
		want  string
	}{
		{"plain amount", "0.000003", true, "0.000003"},
		{"zero stays valid", "0", true, "0"},
		{"whitespace trimmed", "  1.5  ", true, "1.5"},
		{"negative sentinel", "-1", false, ""},
		{"empty", "", false, ""},
		{"garbage", "n/a", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.raw)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.True(t, got.Decimal.Equal(decimal.RequireFromString(tt.want)),
					"got %s, want %s", got.Decimal, tt.want)
			}
		})
	}
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel("-1"))
	assert.True(t, IsSentinel("-0.000001"))
	assert.False(t, IsSentinel("0"))
	assert.False(t, IsSentinel("0.000003"))
	assert.False(t, IsSentinel(""))
	assert.False(t, IsSentinel("not-a-number"))
}

func TestPerTokenToPerMillion(t *testing.T) {
	got := PerTokenToPerMillion("0.000003")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(decimal.NewFromInt(3)), "got %s", got.Decimal)

	got = PerTokenToPerMillion("0.0000025")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(decimal.RequireFromString("2.5")), "got %s", got.Decimal)

	got = PerTokenToPerMillion("0")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.IsZero())

	assert.False(t, PerTokenToPerMillion("-1").Valid)
	assert.False(t, PerTokenToPerMillion("").Valid)
}

// Scaling must be exact: dividing the per-million value by 1e6 returns the
// original per-token quote with no float drift.
func TestPerTokenToPerMillionRoundTrip(t *testing.T) {
	million := decimal.NewFromInt(1_000_000)
	for _, raw := range []string{"0.000003", "0.0000025", "0.00001", "0.0000006", "0"} {
		scaled := PerTokenToPerMillion(raw)
		assert.True(t, scaled.Valid)
		back := scaled.Decimal.Div(million)
		assert.True(t, back.Equal(decimal.RequireFromString(raw)),
			"round trip of %s gave %s", raw, back)
	}
}

func TestPerThousandToPerMillion(t *testing.T) {
	got := PerThousandToPerMillion("0.002")
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(decimal.NewFromInt(2)), "got %s", got.Decimal)

	assert.False(t, PerThousandToPerMillion("-0.002").Valid)
}

func TestFromAggregator(t *testing.T) {
	logger := zerolog.Nop()

	fields := FromAggregator(schemas.AggregatorPricing{
		Prompt:          "0.000003",
		Completion:      "0.000015",
		Request:         "0.005",
		Image:           "0.0048",
		InputCacheRead:  "0.0000003",
		InputCacheWrite: "0.00000375",
	}, logger, "acme/test-model")

	assert.True(t, fields.PromptUSDPerMillion.Decimal.Equal(decimal.NewFromInt(3)))
	assert.True(t, fields.CompletionUSDPerMillion.Decimal.Equal(decimal.NewFromInt(15)))
	// Request and image are absolute amounts, not scaled.
	assert.True(t, fields.RequestUSD.Decimal.Equal(decimal.RequireFromString("0.005")))
	assert.True(t, fields.ImageUSD.Decimal.Equal(decimal.RequireFromString("0.0048")))
	assert.True(t, fields.InputCacheReadUSDPerMillion.Decimal.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, fields.InputCacheWriteUSDPerMillion.Decimal.Equal(decimal.RequireFromString("3.75")))
	assert.False(t, fields.WebSearchUSD.Valid)
}

func TestFromAggregatorSentinels(t *testing.T) {
	logger := zerolog.Nop()

	fields := FromAggregator(schemas.AggregatorPricing{
		Prompt:     "-1",
		Completion: "-1",
	}, logger, "acme/dynamic-router")

	assert.False(t, fields.PromptUSDPerMillion.Valid)
	assert.False(t, fields.CompletionUSDPerMillion.Valid)
	assert.False(t, fields.HasTokenPricing())
}

func TestFromAggregatorFreeModel(t *testing.T) {
	logger := zerolog.Nop()

	fields := FromAggregator(schemas.AggregatorPricing{
		Prompt:     "0",
		Completion: "0",
	}, logger, "acme/free-model")

	assert.True(t, fields.PromptUSDPerMillion.Valid)
	assert.True(t, fields.PromptUSDPerMillion.Decimal.IsZero())
	assert.True(t, fields.CompletionUSDPerMillion.Valid)
	assert.True(t, fields.HasTokenPricing())
}

func TestMergeMax(t *testing.T) {
	d := func(s string) decimal.NullDecimal {
		return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
	}

	a := schemas.PricingFields{
		PromptUSDPerMillion:     d("3"),
		CompletionUSDPerMillion: d("15"),
	}
	b := schemas.PricingFields{
		PromptUSDPerMillion: d("5"),
		RequestUSD:          d("0.01"),
	}

	merged := MergeMax(a, b)
	assert.True(t, merged.PromptUSDPerMillion.Decimal.Equal(decimal.NewFromInt(5)))
	// Absent in b: a's value survives.
	assert.True(t, merged.CompletionUSDPerMillion.Decimal.Equal(decimal.NewFromInt(15)))
	// Absent in a: b's value survives.
	assert.True(t, merged.RequestUSD.Decimal.Equal(decimal.RequireFromString("0.01")))
	assert.False(t, merged.ImageUSD.Valid)
}

func TestPriceChangePercent(t *testing.T) {
	d := func(s string) decimal.NullDecimal {
		return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
	}

	pct := PriceChangePercent(d("1.25"), d("15"))
	assert.True(t, pct.Valid)
	assert.True(t, pct.Decimal.Equal(decimal.NewFromInt(1100)), "got %s", pct.Decimal)

	pct = PriceChangePercent(d("10"), d("5"))
	assert.True(t, pct.Valid)
	assert.True(t, pct.Decimal.Equal(decimal.NewFromInt(-50)), "got %s", pct.Decimal)

	// Zero or absent baselines cannot yield a percentage.
	assert.False(t, PriceChangePercent(d("0"), d("5")).Valid)
	assert.False(t, PriceChangePercent(decimal.NullDecimal{}, d("5")).Valid)
	assert.False(t, PriceChangePercent(d("5"), decimal.NullDecimal{}).Valid)
}
