package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a concrete ledger entry. SourceRuleID links entries that
// were materialized from a recurring rule; manual entries leave it null.
// ToAccount is only set for transfers.
type Transaction struct {
	ID           string `gorm:"primaryKey;size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UserID       uint            `gorm:"index;not null"`
	Type         string          `gorm:"size:16;not null"` // income | expense | transfer
	Amount       decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Category     string          `gorm:"size:128"`
	Account      string          `gorm:"size:16;not null"`
	ToAccount    *string         `gorm:"size:16"`
	Date         time.Time       `gorm:"not null;index"`
	Description  string          `gorm:"size:512"`
	SourceRuleID *string         `gorm:"size:64;index"`
}
