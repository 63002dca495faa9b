// Package cost turns completion token usage into USD estimates.
package cost

import (
	"sync"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Providers missing
// from rates fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	def := DefaultRates()
	if len(rates.Anthropic) == 0 {
		rates.Anthropic = def.Anthropic
	}
	if len(rates.OpenAI) == 0 {
		rates.OpenAI = def.OpenAI
	}
	return &Calculator{rates: rates}
}

// Cost computes the USD cost of one completion. Unknown models cost zero.
func (c *Calculator) Cost(provider, modelName string, u model.TokenUsage) float64 {
	var table map[string]ModelRate
	switch provider {
	case "openai":
		table = c.rates.OpenAI
	default:
		table = c.rates.Anthropic
	}
	rate, ok := table[modelName]
	if !ok {
		return 0
	}

	inCost := (float64(u.InputTokens) / 1e6) * rate.Input
	outCost := (float64(u.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(u.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Tracker accumulates usage across concurrent calls for one ingestion.
type Tracker struct {
	mu    sync.Mutex
	total model.TokenUsage
	phase map[string]model.TokenUsage
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{phase: make(map[string]model.TokenUsage)}
}

// Add records usage under a phase name.
func (t *Tracker) Add(phase string, u model.TokenUsage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.Add(u)
	p := t.phase[phase]
	p.Add(u)
	t.phase[phase] = p
}

// Total returns the accumulated usage.
func (t *Tracker) Total() model.TokenUsage {
	if t == nil {
		return model.TokenUsage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Phase returns the usage recorded for one phase.
func (t *Tracker) Phase(name string) model.TokenUsage {
	if t == nil {
		return model.TokenUsage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase[name]
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o-mini": {Input: 0.15, Output: 0.60, CacheReadMul: 0.5},
			"gpt-4o":      {Input: 2.50, Output: 10.00, CacheReadMul: 0.5},
		},
	}
}
