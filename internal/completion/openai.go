package completion

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

// OpenAICompleter implements Completer on any OpenAI-compatible chat API.
type OpenAICompleter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAICompleter creates an OpenAICompleter. baseURL may be empty.
func NewOpenAICompleter(apiKey, baseURL, modelName string, maxTokens int) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAICompleter{client: openai.NewClientWithConfig(cfg), model: modelName, maxTokens: maxTokens}
}

// Provider implements Completer.
func (o *OpenAICompleter) Provider() string { return "openai" }

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}

	out := &Response{
		Model: o.model,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Calls:        1,
		},
	}
	if resp.Usage.PromptTokensDetails != nil {
		out.Usage.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	if len(resp.Choices) == 0 {
		return out, resilience.NewInvalidOutputError(eris.New("no choices in response"), "")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return out, resilience.NewInvalidOutputError(eris.New("output truncated at max_tokens"), choice.Message.Content)
	}
	raw, err := ParseJSON(choice.Message.Content)
	if err != nil {
		return out, err
	}
	out.Raw = raw
	return out, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode) {
			return resilience.NewTransientError(err, apiErr.HTTPStatusCode)
		}
		return eris.Wrap(err, "openai: create chat completion")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && resilience.IsTransientHTTPStatus(reqErr.HTTPStatusCode) {
		return resilience.NewTransientError(err, reqErr.HTTPStatusCode)
	}
	return classifyTransport(err)
}
