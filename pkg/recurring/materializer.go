package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RecurrenceMarker is appended to the description of every materialized
// transaction so it is recognizable in the ledger.
const RecurrenceMarker = " (recurring)"

// Transaction is a concrete ledger entry produced from a due rule.
type Transaction struct {
	ID           string
	OwnerID      uint
	Type         Kind
	Amount       decimal.Decimal
	Category     string
	Account      Account
	Date         time.Time
	Description  string
	SourceRuleID string
}

// RuleStore persists recurrence rules. Implementations must make
// AdvanceWatermark durable before returning: the exactly-once argument relies
// on the next evaluation reading the advanced watermark.
type RuleStore interface {
	// ActiveRules returns the owner's rules with IsActive set, in no
	// particular order.
	ActiveRules(ctx context.Context, ownerID uint) ([]Rule, error)
	// ActiveOwners returns the distinct owners that have at least one
	// active rule.
	ActiveOwners(ctx context.Context) ([]uint, error)
	Rule(ctx context.Context, id string) (Rule, error)
	Create(ctx context.Context, r Rule) error
	Update(ctx context.Context, r Rule) error
	Delete(ctx context.Context, id string) error
	// AdvanceWatermark sets LastProcessed. It must never move the
	// watermark backwards and must refuse inactive rules.
	AdvanceWatermark(ctx context.Context, id string, processed time.Time) error
}

// Ledger stores concrete transactions and running balances.
type Ledger interface {
	// AppendTransaction records tx and applies its balance effect as one
	// atomic unit: credit the account for income, debit it for expense.
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	// AdjustBalance moves a single account balance by delta. The engine
	// itself never calls it: occurrence balance effects ride inside
	// AppendTransaction. It is part of the ledger contract for
	// collaborators that move money without appending an entry.
	AdjustBalance(ctx context.Context, ownerID uint, account Account, delta decimal.Decimal) error
}

// WatermarkError reports that the ledger write succeeded but the watermark
// advance failed. This is the one path that can produce a duplicate
// occurrence on the next pass; it is surfaced as its own type so callers log
// it at higher severity. No automatic compensation is attempted.
type WatermarkError struct {
	RuleID    string
	Processed time.Time
	Err       error
}

func (e *WatermarkError) Error() string {
	return fmt.Sprintf("rule %s: occurrence recorded but watermark advance to %s failed: %v",
		e.RuleID, e.Processed.Format("2006-01-02"), e.Err)
}

func (e *WatermarkError) Unwrap() error { return e.Err }

// Materializer turns a due rule into a ledger transaction plus balance
// update, then advances the rule's watermark. Idempotence is enforced by the
// due-check reading the advanced watermark, not by a dedup key.
type Materializer struct {
	store  RuleStore
	ledger Ledger
	log    zerolog.Logger
}

func NewMaterializer(store RuleStore, ledger Ledger, log zerolog.Logger) *Materializer {
	return &Materializer{store: store, ledger: ledger, log: log}
}

// Apply records one occurrence of r dated occurrence. A ledger failure aborts
// the whole occurrence (no balance change, no watermark move). A watermark
// failure after a successful ledger write returns *WatermarkError together
// with the created transaction.
func (m *Materializer) Apply(ctx context.Context, r Rule, occurrence time.Time) (Transaction, error) {
	tx := Transaction{
		ID:           uuid.NewString(),
		OwnerID:      r.OwnerID,
		Type:         r.Kind,
		Amount:       r.Amount,
		Category:     r.Category,
		Account:      r.Account,
		Date:         DateOnly(occurrence),
		Description:  r.Description + RecurrenceMarker,
		SourceRuleID: r.ID,
	}
	created, err := m.ledger.AppendTransaction(ctx, tx)
	if err != nil {
		return Transaction{}, fmt.Errorf("append occurrence of rule %s: %w", r.ID, err)
	}
	if err := m.store.AdvanceWatermark(ctx, r.ID, tx.Date); err != nil {
		m.log.Error().Err(err).
			Str("rule_id", r.ID).
			Str("transaction_id", created.ID).
			Time("occurrence", tx.Date).
			Msg("watermark advance failed after ledger write; duplicate possible on next pass")
		return created, &WatermarkError{RuleID: r.ID, Processed: tx.Date, Err: err}
	}
	m.log.Info().
		Str("rule_id", r.ID).
		Str("transaction_id", created.ID).
		Str("type", string(r.Kind)).
		Str("account", string(r.Account)).
		Str("amount", r.Amount.String()).
		Time("occurrence", tx.Date).
		Msg("materialized recurring transaction")
	return created, nil
}
