package models

import "time"

// UsageRecord is the accumulated token usage of one ledger key.
// TotalTokens is always PromptTokens+CompletionTokens and Cost is
// TotalTokens/1000 times the configured price per 1K tokens.
type UsageRecord struct {
	Key              string    `json:"key"`
	PromptTokens     int64     `json:"prompt"`
	CompletionTokens int64     `json:"completion"`
	TotalTokens      int64     `json:"total"`
	Cost             float64   `json:"cost"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

// UsageEvent is a single metered model call, kept for budget periods.
type UsageEvent struct {
	Key              string    `json:"key"`
	PromptTokens     int64     `json:"prompt"`
	CompletionTokens int64     `json:"completion"`
	CreatedAt        time.Time `json:"created_at"`
}

// CostOf returns the cost of total tokens at pricePer1K.
func CostOf(total int64, pricePer1K float64) float64 {
	return float64(total) / 1000 * pricePer1K
}
