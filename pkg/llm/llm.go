// Package llm is the boundary to the external language model: one prompt
// in, one reply out.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pario-ai/tutor/pkg/config"
)

// Model sends a single user message and returns the reply text.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name is the upstream model identifier.
	Name() string
	// Provider names the backend serving Name.
	Provider() string
}

// New builds the Model named by cfg. An empty openai API key falls back to
// the OPENAI_API_KEY environment variable.
func New(ctx context.Context, cfg config.ModelConfig) (Model, error) {
	var (
		m   Model
		err error
	)
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai model: no api_key configured and OPENAI_API_KEY not set")
		}
		m = newOpenAI(cfg)
	case "ark", "deepseek", "openai-compatible":
		m, err = newEino(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("model configured", "provider", m.Provider(), "model", m.Name(), "timeout", cfg.Timeout)
	return WithTimeout(m, cfg.Timeout), nil
}

// WithTimeout bounds every Generate call of m by d. A zero d returns m.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{Model: m, timeout: d}
}

type timeoutModel struct {
	Model
	timeout time.Duration
}

func (t *timeoutModel) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Model.Generate(ctx, prompt)
}
