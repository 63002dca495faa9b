package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// LogCost logs token usage and its cost with structured zap fields.
func LogCost(u model.TokenUsage, provider, modelName, phase string) {
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", modelName),
		zap.String("phase", phase),
		zap.Int("input_tokens", u.InputTokens),
		zap.Int("output_tokens", u.OutputTokens),
		zap.Int("cache_write_tokens", u.CacheCreationTokens),
		zap.Int("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", u.Cost),
	)
}
