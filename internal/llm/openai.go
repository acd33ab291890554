package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/forged/internal/config"
)

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	model       llms.Model
	temperature float64
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from config. Base URL may point at any
// OpenAI-compatible gateway (OpenAI itself, a local ollama, vLLM, ...).
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithBaseURL(cfg.BaseURL),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &OpenAIClient{model: model, temperature: cfg.Temperature}, nil
}

// Complete sends the prompt as a single human message and returns the first
// choice plus the backend's reported token usage.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (*Completion, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return nil, &BackendError{Message: err.Error(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &BackendError{Message: "backend returned no choices"}
	}

	choice := resp.Choices[0]
	tokens := usageFromGenerationInfo(choice.GenerationInfo)
	if tokens == 0 {
		tokens = estimateTokens(prompt) + estimateTokens(choice.Content)
	}
	return &Completion{Text: choice.Content, Tokens: tokens}, nil
}

// usageFromGenerationInfo digs the total token count out of langchaingo's
// per-choice generation info. The OpenAI backend reports ints; other
// backends may report float64 or nothing at all.
func usageFromGenerationInfo(info map[string]any) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		switch v := info[key].(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}
