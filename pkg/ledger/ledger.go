// Package ledger accumulates token usage and cost per key. A key is an
// institution or a username depending on configuration; the ledger itself
// does not care which.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/tutor/pkg/models"
)

// ErrInvalidUsage is returned for negative token counts or a bad key.
var ErrInvalidUsage = errors.New("invalid usage")

// Ledger records and queries accumulated token usage.
type Ledger interface {
	// Record adds prompt and completion tokens to key and returns the new totals.
	Record(ctx context.Context, key string, promptTokens, completionTokens int, at time.Time) (models.UsageRecord, error)
	// Read returns the totals of key, zeroed if the key was never recorded.
	Read(ctx context.Context, key string) (models.UsageRecord, error)
	// ListKeys returns every recorded key in sorted order.
	ListKeys(ctx context.Context) ([]string, error)
	// List returns the totals of every key in key order.
	List(ctx context.Context) ([]models.UsageRecord, error)
	// TotalSince returns the tokens recorded for key at or after since.
	TotalSince(ctx context.Context, key string, since time.Time) (int64, error)
}

func validate(key string, promptTokens, completionTokens int) error {
	if key == "" || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: key %q", ErrInvalidUsage, key)
	}
	if promptTokens < 0 || completionTokens < 0 {
		return fmt.Errorf("%w: negative token count (%d, %d)", ErrInvalidUsage, promptTokens, completionTokens)
	}
	return nil
}

// totals builds a record whose total and cost derive from the two counts.
func totals(key string, prompt, completion int64, pricePer1K float64, updated time.Time) models.UsageRecord {
	total := prompt + completion
	return models.UsageRecord{
		Key:              key,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
		Cost:             models.CostOf(total, pricePer1K),
		UpdatedAt:        updated,
	}
}
