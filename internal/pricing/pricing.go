package pricing

// Package pricing converts token usage into a dollar amount.
//
// Design:
//   - Static table of per-1K-token rates per model family
//   - Flat families bill total tokens at a single rate
//   - Split families bill prompt and completion separately, with the rate pair
//     selected by the call's total token count (8K tier, 32K tier)
//   - Amounts are dollars; conversion to account units happens in the ledger

import (
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// ─── Rates ───────────────────────────────────────────────────────────────────

// Rates is a prompt/completion price pair in USD per 1K tokens.
type Rates struct {
	PromptPer1K     float64 `json:"prompt_per_1k_usd"`
	CompletionPer1K float64 `json:"completion_per_1k_usd"`
}

// Tier applies Rates to calls whose total token count is at most UpTo.
type Tier struct {
	Model models.ModelID
	UpTo  int
	Rates Rates
}

// Plan is how one model family is billed.
type Plan struct {
	// Flat is the per-1K rate for total tokens. Used when Tiers is empty.
	Flat  float64
	Tiers []Tier
}

// Split reports whether the plan bills prompt and completion tokens separately.
func (p Plan) Split() bool { return len(p.Tiers) > 0 }

// Table maps chat models to their billing plan.
type Table map[models.ModelID]Plan

var (
	gpt35Plan = Plan{Flat: 0.002}
	gpt4Plan  = Plan{Tiers: []Tier{
		{Model: models.GPT4Tier8K, UpTo: 8000, Rates: Rates{PromptPer1K: 0.03, CompletionPer1K: 0.06}},
		{Model: models.GPT4Tier32K, UpTo: 32000, Rates: Rates{PromptPer1K: 0.06, CompletionPer1K: 0.12}},
	}}
)

// DefaultTable is the bundled price list.
var DefaultTable = Table{
	models.GPT35Turbo:     gpt35Plan,
	models.GPT35Turbo0301: gpt35Plan,
	models.GPT4:           gpt4Plan,
	models.GPT40314:       gpt4Plan,
}

// ─── Calculation ─────────────────────────────────────────────────────────────

// Plan returns the billing plan for model.
func (t Table) Plan(model models.ModelID) (Plan, error) {
	p, ok := t[model]
	if !ok {
		return Plan{}, &models.UnsupportedModelError{Model: model}
	}
	return p, nil
}

// Price returns the dollar cost of usage on model.
func (t Table) Price(model models.ModelID, usage models.ModelUsage) (float64, error) {
	p, err := t.Plan(model)
	if err != nil {
		return 0, err
	}
	if !p.Split() {
		return float64(usage.TotalTokens) / 1000 * p.Flat, nil
	}
	tier, err := p.tierFor(int(usage.TotalTokens))
	if err != nil {
		return 0, err
	}
	return float64(usage.PromptTokens)/1000*tier.Rates.PromptPer1K +
		float64(usage.CompletionTokens)/1000*tier.Rates.CompletionPer1K, nil
}

// PromptPrice returns the dollar cost of sending promptTokens on model,
// ignoring whatever the completion will cost.
func (t Table) PromptPrice(model models.ModelID, promptTokens int) (float64, error) {
	p, err := t.Plan(model)
	if err != nil {
		return 0, err
	}
	if !p.Split() {
		return float64(promptTokens) / 1000 * p.Flat, nil
	}
	tier, err := p.tierFor(promptTokens)
	if err != nil {
		return 0, err
	}
	return float64(promptTokens) / 1000 * tier.Rates.PromptPer1K, nil
}

func (p Plan) tierFor(total int) (Tier, error) {
	for _, tier := range p.Tiers {
		if total <= tier.UpTo {
			return tier, nil
		}
	}
	return Tier{}, &models.TooManyTokensError{Tokens: total, Limit: p.Tiers[len(p.Tiers)-1].UpTo}
}

// Price prices usage with DefaultTable.
func Price(model models.ModelID, usage models.ModelUsage) (float64, error) {
	return DefaultTable.Price(model, usage)
}
