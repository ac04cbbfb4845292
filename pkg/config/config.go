package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/tutor/pkg/models"
)

// Config holds all tutor configuration.
type Config struct {
	Listen          string             `yaml:"listen" validate:"required"`
	LogLevel        string             `yaml:"log_level" validate:"oneof=debug info warn error"`
	CredentialsPath string             `yaml:"credentials_path" validate:"required"`
	AdminUsers      []string           `yaml:"admin_users"`
	Storage         StorageConfig      `yaml:"storage"`
	Session         SessionConfig      `yaml:"session"`
	Pricing         PricingConfig      `yaml:"pricing"`
	Ledger          LedgerConfig       `yaml:"ledger"`
	Model           ModelConfig        `yaml:"model"`
	Prompts         PromptsConfig      `yaml:"prompts"`
	Documents       DocumentsConfig    `yaml:"documents"`
	Cache           CacheConfig        `yaml:"cache"`
	Budget          BudgetConfig       `yaml:"budget"`
	Audit           models.AuditConfig `yaml:"audit"`
}

// StorageConfig selects the backend holding sessions and usage.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite bolt"`
	Path   string `yaml:"path" validate:"required"`
}

// SessionConfig controls the single-session lease.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=1s,lte=24h"`
}

// PricingConfig sets the flat token price used for cost.
type PricingConfig struct {
	PricePer1K float64 `yaml:"price_per_1k" validate:"gte=0"`
}

// LedgerConfig chooses what usage is keyed by: "institution" or "user".
type LedgerConfig struct {
	KeyBy string `yaml:"key_by" validate:"oneof=institution user"`
}

// ModelConfig defines the upstream model.
// Provider is "openai" (default), "ark", "deepseek" or "openai-compatible".
type ModelConfig struct {
	Provider string        `yaml:"provider" validate:"oneof=openai ark deepseek openai-compatible"`
	Name     string        `yaml:"name" validate:"required"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`

	// Temperature is left to the provider default when unset.
	Temperature *float32 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
}

// PromptsConfig holds the instructions prepended to every model call.
type PromptsConfig struct {
	System   string `yaml:"system" validate:"required"`
	Summary  string `yaml:"summary" validate:"required"`
	Question string `yaml:"question"`
}

// DocumentsConfig controls upload handling.
type DocumentsConfig struct {
	MaxUploadBytes  int64   `yaml:"max_upload_bytes" validate:"gt=0"`
	PreviewDPI      float64 `yaml:"preview_dpi" validate:"gt=0"`
	MaxPreviewPages int     `yaml:"max_preview_pages" validate:"gte=0"`
	MaxTextBytes    int64   `yaml:"max_text_bytes" validate:"gt=0"`
	MaxImagePixels  int     `yaml:"max_image_pixels" validate:"gt=0"`
	TextPreview     bool    `yaml:"text_preview"`
	DocxImages      bool    `yaml:"docx_images"`
}

// CacheConfig controls the summary cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl"`
}

// BudgetConfig controls budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies" validate:"dive"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		LogLevel:        "info",
		CredentialsPath: "users.json",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "tutor.db",
		},
		Session: SessionConfig{
			Timeout: 60 * time.Second,
		},
		Pricing: PricingConfig{
			PricePer1K: 0.0015,
		},
		Ledger: LedgerConfig{
			KeyBy: "institution",
		},
		Model: ModelConfig{
			Provider: "openai",
			Name:     "gpt-4o-mini",
		},
		Prompts: PromptsConfig{
			System:   DefaultSystemPrompt,
			Summary:  DefaultSummaryPrompt,
			Question: DefaultQuestionLabel,
		},
		Documents: DocumentsConfig{
			MaxUploadBytes: 20 << 20,
			PreviewDPI:     72,
			MaxTextBytes:   16 << 20,
			MaxImagePixels: 40_000_000,
			DocxImages:     true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "tutor-cache.db",
			TTL:     24 * time.Hour,
		},
		Audit: models.AuditConfig{
			Enabled:       true,
			DBPath:        "tutor-audit.db",
			RetentionDays: 90,
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsAdmin reports whether username may read the usage of every key.
func (c *Config) IsAdmin(username string) bool {
	for _, u := range c.AdminUsers {
		if u == username {
			return true
		}
	}
	return false
}
