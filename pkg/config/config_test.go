package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Session.Timeout != time.Minute {
		t.Errorf("expected 60s session timeout, got %v", cfg.Session.Timeout)
	}
	if cfg.Ledger.KeyBy != "institution" {
		t.Errorf("expected institution keying, got %s", cfg.Ledger.KeyBy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
listen: ":9090"
credentials_path: "accounts.json"
admin_users: [prof]
storage:
  driver: bolt
  path: "test.bolt"
session:
  timeout: 10m
pricing:
  price_per_1k: 0.002
ledger:
  key_by: user
model:
  provider: openai
  name: gpt-4o
  api_key: ${TEST_API_KEY}
cache:
  enabled: true
  ttl: 30m
budget:
  enabled: true
  policies:
    - key: "*"
      max_tokens: 500000
      period: daily
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Model.APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Model.APIKey)
	}
	if cfg.Storage.Driver != "bolt" {
		t.Errorf("expected bolt driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Session.Timeout != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %v", cfg.Session.Timeout)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if !cfg.Budget.Enabled {
		t.Error("expected budget enabled")
	}
	if len(cfg.Budget.Policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(cfg.Budget.Policies))
	}
	if cfg.Budget.Policies[0].MaxTokens != 500000 {
		t.Errorf("expected 500000 max tokens, got %d", cfg.Budget.Policies[0].MaxTokens)
	}
	if !cfg.IsAdmin("prof") || cfg.IsAdmin("alice") {
		t.Error("admin_users not honoured")
	}
	// Untouched sections keep their defaults.
	if cfg.Prompts.System != DefaultSystemPrompt {
		t.Error("expected default system prompt")
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: postgres\n",
		"key_by":   "ledger:\n  key_by: team\n",
		"timeout":  "session:\n  timeout: 0s\n",
		"provider": "model:\n  provider: nope\n",
		"policy":   "budget:\n  policies:\n    - key: \"*\"\n      max_tokens: 0\n      period: daily\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("expected validation error for %s", name)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
