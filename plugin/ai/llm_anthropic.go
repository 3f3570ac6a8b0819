package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicLLM struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

func newAnthropicLLM(cfg *LLMConfig) *anthropicLLM {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	return &anthropicLLM{
		client:      &client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// params splits system messages out of the conversation; the Messages API
// takes them as a separate field.
func (s *anthropicLLM) params(messages []Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var conversation []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		Messages:    conversation,
		MaxTokens:   int64(s.maxTokens),
		Temperature: anthropic.Float(float64(s.temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

func (s *anthropicLLM) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := s.client.Messages.New(ctx, s.params(messages))
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}
	return sb.String(), nil
}
