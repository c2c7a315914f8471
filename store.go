package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kumbara/models"
	"kumbara/pkg/recurring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// gormRuleStore backs the engine's RuleStore interface with Postgres rows.
// This replaces the JSON-blob-per-user persistence of the earlier design:
// rules are first-class records, so the engine never parses opaque text.
type gormRuleStore struct {
	db *gorm.DB
}

var _ recurring.RuleStore = (*gormRuleStore)(nil)

func (s *gormRuleStore) ActiveRules(ctx context.Context, ownerID uint) ([]recurring.Rule, error) {
	var rows []models.RecurringRule
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", ownerID, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	rules := make([]recurring.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, ruleFromModel(row))
	}
	return rules, nil
}

func (s *gormRuleStore) ActiveOwners(ctx context.Context) ([]uint, error) {
	var owners []uint
	err := s.db.WithContext(ctx).
		Model(&models.RecurringRule{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("user_id", &owners).Error
	return owners, err
}

func (s *gormRuleStore) Rule(ctx context.Context, id string) (recurring.Rule, error) {
	var row models.RecurringRule
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return recurring.Rule{}, recurring.ErrRuleNotFound
		}
		return recurring.Rule{}, err
	}
	return ruleFromModel(row), nil
}

func (s *gormRuleStore) Create(ctx context.Context, r recurring.Rule) error {
	row := ruleToModel(r)
	return s.db.WithContext(ctx).Create(&row).Error
}

// Update persists the owner-mutable fields only. The watermark has its own
// dedicated path and the remaining fields are immutable after creation.
func (s *gormRuleStore) Update(ctx context.Context, r recurring.Rule) error {
	res := s.db.WithContext(ctx).
		Model(&models.RecurringRule{}).
		Where("id = ?", r.ID).
		Select("category", "description", "is_active").
		Updates(models.RecurringRule{
			Category:    r.Category,
			Description: r.Description,
			IsActive:    r.IsActive,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return recurring.ErrRuleNotFound
	}
	return nil
}

func (s *gormRuleStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.RecurringRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return recurring.ErrRuleNotFound
	}
	return nil
}

// AdvanceWatermark moves LastProcessed forward. The guards keep the watermark
// monotonic and refuse inactive rules even under concurrent callers.
func (s *gormRuleStore) AdvanceWatermark(ctx context.Context, id string, processed time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.RecurringRule{}).
		Where("id = ? AND is_active = ? AND (last_processed IS NULL OR last_processed <= ?)", id, true, processed).
		Update("last_processed", processed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %s: watermark not advanced (missing, inactive, or stale)", id)
	}
	return nil
}

func ruleFromModel(m models.RecurringRule) recurring.Rule {
	return recurring.Rule{
		ID:            m.ID,
		OwnerID:       m.UserID,
		Kind:          recurring.Kind(m.Kind),
		Amount:        m.Amount,
		Category:      m.Category,
		Description:   m.Description,
		Account:       recurring.Account(m.Account),
		Frequency:     recurring.Frequency(m.Frequency),
		StartDate:     m.StartDate,
		EndDate:       m.EndDate,
		IsActive:      m.IsActive,
		LastProcessed: m.LastProcessed,
		CreatedAt:     m.CreatedAt,
	}
}

func ruleToModel(r recurring.Rule) models.RecurringRule {
	return models.RecurringRule{
		ID:            r.ID,
		UserID:        r.OwnerID,
		Kind:          string(r.Kind),
		Amount:        r.Amount,
		Category:      r.Category,
		Description:   r.Description,
		Account:       string(r.Account),
		Frequency:     string(r.Frequency),
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		IsActive:      r.IsActive,
		LastProcessed: r.LastProcessed,
	}
}

// gormLedger implements the engine's Ledger on the transactions and balances
// tables.
type gormLedger struct {
	db *gorm.DB
}

var _ recurring.Ledger = (*gormLedger)(nil)

// AppendTransaction writes the ledger row and applies its balance effect in
// one database transaction. Income credits the account, expense debits it.
func (l *gormLedger) AppendTransaction(ctx context.Context, t recurring.Transaction) (recurring.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row := models.Transaction{
		ID:          t.ID,
		UserID:      t.OwnerID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Category:    t.Category,
		Account:     string(t.Account),
		Date:        t.Date,
		Description: t.Description,
	}
	if t.SourceRuleID != "" {
		sid := t.SourceRuleID
		row.SourceRuleID = &sid
	}
	delta := t.Amount
	if t.Type == recurring.KindExpense {
		delta = delta.Neg()
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return adjustBalanceTx(tx, t.OwnerID, string(t.Account), delta)
	})
	if err != nil {
		return recurring.Transaction{}, err
	}
	return t, nil
}

func (l *gormLedger) AdjustBalance(ctx context.Context, ownerID uint, account recurring.Account, delta decimal.Decimal) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return adjustBalanceTx(tx, ownerID, string(account), delta)
	})
}

// AppendTransfer records a transfer between two accounts and moves the amount
// from one balance to the other, all in one database transaction.
func (l *gormLedger) AppendTransfer(ctx context.Context, ownerID uint, from, to string, amount decimal.Decimal, date time.Time, description string) (models.Transaction, error) {
	toAccount := to
	row := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      ownerID,
		Type:        "transfer",
		Amount:      amount,
		Account:     from,
		ToAccount:   &toAccount,
		Date:        date,
		Description: description,
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := adjustBalanceTx(tx, ownerID, from, amount.Neg()); err != nil {
			return err
		}
		return adjustBalanceTx(tx, ownerID, to, amount)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// adjustBalanceTx upserts the balance row and applies delta inside the
// caller's transaction.
func adjustBalanceTx(tx *gorm.DB, userID uint, account string, delta decimal.Decimal) error {
	bal := models.Balance{UserID: userID, Account: account}
	if err := tx.Where(models.Balance{UserID: userID, Account: account}).FirstOrCreate(&bal).Error; err != nil {
		return err
	}
	return tx.Model(&models.Balance{}).
		Where("user_id = ? AND account = ?", userID, account).
		Update("amount", gorm.Expr("amount + ?", delta)).Error
}
