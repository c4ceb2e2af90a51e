package pipeline

import (
	"context"
	"math/rand"

	"github.com/google/uuid"

	"github.com/g2scv/llm-cost/normalize"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/store/tables"
)

// runBYOKSpotChecks samples a few paid models and issues tiny real requests
// to reconcile aggregator-reported cost with upstream cost. Terminal
// failures are recorded with ok=false and never retried within the tick.
func (p *Pipeline) runBYOKSpotChecks(ctx context.Context, models []schemas.AggregatorModel) {
	if p.cfg.BYOKSampleSize <= 0 || len(models) == 0 {
		return
	}

	shuffled := make([]schemas.AggregatorModel, len(models))
	copy(shuffled, models)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	checked := 0
	for _, m := range shuffled {
		if checked >= p.cfg.BYOKSampleSize {
			break
		}
		if ctx.Err() != nil {
			return
		}
		if !byokEligible(m) {
			p.logger.Debug().Str("model", m.Slug).Msg("skipping_byok_for_free_or_unavailable_model")
			continue
		}
		p.spotCheck(ctx, m)
		checked++
	}
}

// byokEligible excludes free and sentinel-priced models; a one-token request
// against them verifies nothing.
func byokEligible(m schemas.AggregatorModel) bool {
	if normalize.IsSentinel(m.Pricing.Prompt) || normalize.IsSentinel(m.Pricing.Completion) {
		return false
	}
	prompt := normalize.ParsePrice(m.Pricing.Prompt)
	completion := normalize.ParsePrice(m.Pricing.Completion)
	if !prompt.Valid && !completion.Valid {
		return false
	}
	free := (!prompt.Valid || prompt.Decimal.IsZero()) && (!completion.Valid || completion.Decimal.IsZero())
	return !free
}

func (p *Pipeline) spotCheck(ctx context.Context, m schemas.AggregatorModel) {
	model, err := p.store.GetModelBySlug(ctx, m.Slug)
	if err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("byok_model_lookup_failed")
		return
	}

	verification := &tables.BYOKVerification{
		ID:        uuid.NewString(),
		ModelID:   model.ID,
		ModelSlug: m.Slug,
	}

	report, err := p.client.TinyBYOKCall(ctx, m.Slug)
	if err != nil {
		errMsg := err.Error()
		verification.OK = false
		verification.Error = &errMsg
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("byok_spot_check_failed")
	} else {
		verification.OK = true
		verification.AggregatorCostUSD = report.AggregatorCostUSD
		verification.UpstreamCostUSD = report.UpstreamCostUSD
		verification.PromptTokens = report.PromptTokens
		verification.CompletionTokens = report.CompletionTokens
		verification.ResponseMS = report.ResponseMS
		if len(report.RawUsage) > 0 {
			raw := string(report.RawUsage)
			verification.RawUsage = &raw
		}
	}

	if err := p.store.InsertBYOKVerification(ctx, verification); err != nil {
		p.logger.Warn().Err(err).Str("model", m.Slug).Msg("byok_verification_write_failed")
	}
}
