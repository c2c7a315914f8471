package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecurringRule is a stored recurring transaction template. LastProcessed is
// the watermark of the most recent materialized occurrence; it only ever
// moves forward, and only while the rule is active.
type RecurringRule struct {
	ID            string `gorm:"primaryKey;size:64"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UserID        uint            `gorm:"index;not null"`
	Kind          string          `gorm:"size:16;not null"` // income | expense
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Category      string          `gorm:"size:128"`
	Description   string          `gorm:"size:512"`
	Account       string          `gorm:"size:16;not null"` // cash | bank | savings
	Frequency     string          `gorm:"size:16;not null"` // daily | weekly | monthly | yearly
	StartDate     time.Time       `gorm:"not null"`
	EndDate       *time.Time
	IsActive      bool `gorm:"default:true;not null;index"`
	LastProcessed *time.Time
}
