package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pario-ai/tutor/pkg/config"
)

// EinoModel adapts an eino chat model to Model.
type EinoModel struct {
	chat     model.BaseChatModel
	name     string
	provider string
}

// NewEino wraps an existing eino chat model.
func NewEino(chat model.BaseChatModel, name, provider string) *EinoModel {
	return &EinoModel{chat: chat, name: name, provider: provider}
}

func newEino(ctx context.Context, cfg config.ModelConfig) (*EinoModel, error) {
	var (
		chat model.BaseChatModel
		err  error
	)
	switch cfg.Provider {
	case "ark":
		chat, err = ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
		})
	case "deepseek":
		chat, err = deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Name,
		})
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible model: base_url is required")
		}
		chat, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported eino provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return NewEino(chat, cfg.Name, cfg.Provider), nil
}

// Generate sends prompt as the only user message.
func (e *EinoModel) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := e.chat.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", e.provider, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%s returned no message", e.provider)
	}
	return msg.Content, nil
}

func (e *EinoModel) Name() string     { return e.name }
func (e *EinoModel) Provider() string { return e.provider }
