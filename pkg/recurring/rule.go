package recurring

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the money-flow direction of a rule.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Account is the ledger bucket a rule pays into or out of.
type Account string

const (
	AccountCash    Account = "cash"
	AccountBank    Account = "bank"
	AccountSavings Account = "savings"
)

// Frequency controls how often a rule fires.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Rule is a user-defined recurring transaction template. Descriptive fields
// (Category, Description) are mutable by the owner; everything else is fixed
// at creation except IsActive and the LastProcessed watermark.
type Rule struct {
	ID            string
	OwnerID       uint
	Kind          Kind
	Amount        decimal.Decimal
	Category      string
	Description   string
	Account       Account
	Frequency     Frequency
	StartDate     time.Time
	EndDate       *time.Time
	IsActive      bool
	LastProcessed *time.Time
	CreatedAt     time.Time
}

// ErrRuleNotFound is returned by stores when a rule id does not exist or does
// not belong to the requesting owner.
var ErrRuleNotFound = errors.New("recurring rule not found")

// ValidationError reports a malformed rule field. Nothing is persisted when
// validation fails.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// Validate checks the rule invariants. It is called once at the creation
// boundary; rules are never mutated field-by-field without passing through it
// again.
func (r *Rule) Validate() error {
	switch r.Kind {
	case KindIncome, KindExpense:
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("must be income or expense, got %q", r.Kind)}
	}
	switch r.Account {
	case AccountCash, AccountBank, AccountSavings:
	default:
		return &ValidationError{Field: "account", Reason: fmt.Sprintf("unknown account %q", r.Account)}
	}
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return &ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", r.Frequency)}
	}
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if r.StartDate.IsZero() {
		return &ValidationError{Field: "startDate", Reason: "is required"}
	}
	if r.EndDate != nil && DateOnly(*r.EndDate).Before(DateOnly(r.StartDate)) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	return nil
}
