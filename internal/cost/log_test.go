package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestLogCost(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	LogCost(model.TokenUsage{InputTokens: 1200, OutputTokens: 300, CacheReadTokens: 50, Cost: 0.0042}, "anthropic", "claude-haiku-4-5-20251001", "extract")

	entries := logs.FilterMessage("cost attribution").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "extract", fields["phase"])
	assert.Equal(t, "claude-haiku-4-5-20251001", fields["model"])
	assert.Equal(t, int64(1200), fields["input_tokens"])
	assert.InDelta(t, 0.0042, fields["estimated_cost_usd"], 1e-9)
}
