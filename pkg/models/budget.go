package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy defines max tokens per ledger key per period.
// Key "*" applies to every key.
type BudgetPolicy struct {
	Key       string       `json:"key" yaml:"key" validate:"required"`
	MaxTokens int64        `json:"max_tokens" yaml:"max_tokens" validate:"gt=0"`
	Period    BudgetPeriod `json:"period" yaml:"period" validate:"oneof=daily monthly"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
}
