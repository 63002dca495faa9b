package completion

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/pkg/anthropic"
)

// AnthropicCompleter implements Completer on the Anthropic Messages API.
type AnthropicCompleter struct {
	client     anthropic.Client
	fastModel  string
	smartModel string
	maxTokens  int
}

// NewAnthropicCompleter creates an AnthropicCompleter. smartModel is used for
// requests flagged HighQuality and falls back to fastModel when empty.
func NewAnthropicCompleter(client anthropic.Client, fastModel, smartModel string, maxTokens int) *AnthropicCompleter {
	if smartModel == "" {
		smartModel = fastModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicCompleter{client: client, fastModel: fastModel, smartModel: smartModel, maxTokens: maxTokens}
}

// Provider implements Completer.
func (a *AnthropicCompleter) Provider() string { return "anthropic" }

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName := a.fastModel
	if req.HighQuality {
		modelName = a.smartModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	temp := 0.0

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelName,
		MaxTokens:   int64(maxTokens),
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt(req), ""),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, classifyAnthropic(err)
	}

	out := &Response{
		Model: modelName,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
			Calls:               1,
		},
	}

	text := resp.Text()
	if resp.StopReason == "max_tokens" {
		// Truncated output is handed to the repair path as-is.
		return out, resilience.NewInvalidOutputError(eris.New("output truncated at max_tokens"), text)
	}
	raw, err := ParseJSON(text)
	if err != nil {
		return out, err
	}
	out.Raw = raw
	return out, nil
}

func classifyAnthropic(err error) error {
	if code := anthropic.StatusCode(err); code != 0 {
		if resilience.IsTransientHTTPStatus(code) {
			return resilience.NewTransientError(err, code)
		}
		return err
	}
	return classifyTransport(err)
}

// classifyTransport maps non-HTTP failures. A per-call deadline is transient;
// the retry loop still stops once the caller's own context is done.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), resilience.IsTransient(err):
		return resilience.NewTransientError(err, 0)
	default:
		return err
	}
}
