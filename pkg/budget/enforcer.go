// Package budget caps the tokens a ledger key may spend per period.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/tutor/pkg/ledger"
	"github.com/pario-ai/tutor/pkg/models"
)

// ErrBudgetExceeded is returned when a key has used up a policy.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Enforcer checks ledger usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	ledger   ledger.Ledger
}

// New creates an Enforcer over the given ledger.
func New(policies []models.BudgetPolicy, l ledger.Ledger) *Enforcer {
	return &Enforcer{policies: policies, ledger: l}
}

// Check returns ErrBudgetExceeded if key has reached any applicable policy
// in the period containing now.
func (e *Enforcer) Check(ctx context.Context, key string, now time.Time) error {
	for _, p := range e.policiesForKey(key) {
		used, err := e.ledger.TotalSince(ctx, key, periodStart(p.Period, now))
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return fmt.Errorf("%w: %d/%d %s tokens for %s", ErrBudgetExceeded, used, p.MaxTokens, p.Period, key)
		}
	}
	return nil
}

// Status returns the state of every policy applying to key.
func (e *Enforcer) Status(ctx context.Context, key string, now time.Time) ([]models.BudgetStatus, error) {
	policies := e.policiesForKey(key)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.ledger.TotalSince(ctx, key, periodStart(p.Period, now))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) policiesForKey(key string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Key == "*" || p.Key == key {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
