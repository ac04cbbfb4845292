package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/pario-ai/tutor/pkg/config"
)

// OpenAIModel calls the OpenAI chat completions API.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature *float32
}

func newOpenAI(cfg config.ModelConfig) *OpenAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Name,
		temperature: cfg.Temperature,
	}
}

// Generate sends prompt as the only user message.
func (o *OpenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("generating via openai", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	slog.Debug("openai reply", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIModel) Name() string     { return o.model }
func (o *OpenAIModel) Provider() string { return "openai" }
