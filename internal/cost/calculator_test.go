package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		OpenAI: map[string]ModelRate{
			"mini": {Input: 0.15, Output: 0.60},
		},
	}
}

func TestCost(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name     string
		provider string
		model    string
		usage    model.TokenUsage
		want     float64
	}{
		{
			name: "anthropic simple", provider: "anthropic", model: "haiku",
			usage: model.TokenUsage{InputTokens: 1000000, OutputTokens: 100000},
			want:  0.80 + 0.40,
		},
		{
			name: "anthropic with cache", provider: "anthropic", model: "haiku",
			usage: model.TokenUsage{InputTokens: 500000, OutputTokens: 50000, CacheCreationTokens: 200000, CacheReadTokens: 300000},
			// 0.40 + 0.20 + 0.20 + 0.024
			want: 0.824,
		},
		{
			name: "openai", provider: "openai", model: "mini",
			usage: model.TokenUsage{InputTokens: 1000000, OutputTokens: 1000000},
			want:  0.75,
		},
		{
			name: "unknown model", provider: "anthropic", model: "nope",
			usage: model.TokenUsage{InputTokens: 1000000},
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Cost(tt.provider, tt.model, tt.usage), 1e-9)
		})
	}
}

func TestNewCalculator_FallsBackToDefaults(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(Rates{})
	got := calc.Cost("anthropic", "claude-haiku-4-5-20251001", model.TokenUsage{InputTokens: 1000000})
	assert.InDelta(t, 1.00, got, 1e-9)
}

func TestTracker_Concurrent(t *testing.T) {
	t.Parallel()
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("extract", model.TokenUsage{InputTokens: 10, Calls: 1, Cost: 0.01})
		}()
	}
	wg.Wait()
	tr.Add("normalize", model.TokenUsage{InputTokens: 5, Calls: 1})

	assert.Equal(t, 205, tr.Total().InputTokens)
	assert.Equal(t, 21, tr.Total().Calls)
	assert.Equal(t, 20, tr.Phase("extract").Calls)
	assert.InDelta(t, 0.20, tr.Total().Cost, 1e-9)

	var nilTracker *Tracker
	nilTracker.Add("x", model.TokenUsage{Calls: 1})
	assert.Equal(t, 0, nilTracker.Total().Calls)
}
