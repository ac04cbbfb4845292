package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/tutor/pkg/config"
)

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Pense a \\(\\Delta\\)."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}}`))
	}))
	defer srv.Close()

	m, err := New(context.Background(), config.ModelConfig{
		Provider: "openai",
		Name:     "gpt-4o-mini",
		APIKey:   "sk-test",
		BaseURL:  srv.URL + "/v1",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Provider())
	assert.Equal(t, "gpt-4o-mini", m.Name())

	reply, err := m.Generate(context.Background(), "Explique le discriminant")
	require.NoError(t, err)
	assert.Equal(t, `Pense a \(\Delta\).`, reply)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Explique le discriminant", got.Messages[0].Content)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestOpenAIGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	m, err := New(context.Background(), config.ModelConfig{Name: "gpt-4o-mini", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(context.Background(), config.ModelConfig{Provider: "openai", Name: "gpt-4o-mini"})
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	m, err := New(context.Background(), config.ModelConfig{Provider: "openai", Name: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", m.Name())
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), config.ModelConfig{Provider: "mistral", Name: "x"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.ModelConfig{Provider: "openai-compatible", Name: "x"})
	assert.Error(t, err, "base_url is required")
}

type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (blockingModel) Name() string     { return "block" }
func (blockingModel) Provider() string { return "test" }

func TestWithTimeout(t *testing.T) {
	var m Model = blockingModel{}
	assert.Equal(t, m, WithTimeout(m, 0))

	_, err := WithTimeout(m, 10*time.Millisecond).Generate(context.Background(), "x")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "block", WithTimeout(m, time.Second).Name())
}

func TestEstimator(t *testing.T) {
	var e Estimator
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abc"))
	assert.Equal(t, 1, e.Count("abcd"))
	assert.Equal(t, 2, e.Count("abcde"))
	assert.Equal(t, 1, e.Count("éèàç"))
}

func TestTokenizerCountsSomething(t *testing.T) {
	tok := NewTokenizer("gpt-4o-mini")
	assert.Zero(t, tok.Count(""))
	n := tok.Count("Bonjour, peux-tu m'aider avec les fractions ?")
	assert.Positive(t, n)
	assert.Less(t, n, 50)
}
