package models

import "time"

// CallKind names the controller operation that issued a model call.
type CallKind string

const (
	KindSummary CallKind = "summary"
	KindChat    CallKind = "chat"
)

// AuditEntry records one model call. Prompt and reply text are never kept.
type AuditEntry struct {
	RequestID        string    `json:"request_id"`
	Username         string    `json:"username"`
	Key              string    `json:"key"`
	Kind             CallKind  `json:"kind"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Status           string    `json:"status"` // "ok" or "error"
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Username  string
	Key       string
	Kind      CallKind
	Since     time.Time
	RequestID string
	Limit     int
}

// AuditStat holds aggregate call counts for a kind/day combination.
type AuditStat struct {
	Kind   CallKind
	Day    string
	Count  int
	Errors int
	Tokens int64
}
