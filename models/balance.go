package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance holds the running balance of one account bucket for one user.
// Rows are created lazily on first use.
type Balance struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint            `gorm:"not null;uniqueIndex:idx_user_account"`
	Account   string          `gorm:"size:16;not null;uniqueIndex:idx_user_account"`
	Amount    decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
}
