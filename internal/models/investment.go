package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Investment status values.
const (
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
)

// Investment is one activated plan subscription.
type Investment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`                                  // Primary key.
	AccountID uint64 `gorm:"not null;index:idx_investments_status_account,priority:2"` // Owning account.
	PlanID    int    `gorm:"not null"`                                                  // Plan table id.

	Principal   decimal.Decimal `gorm:"type:decimal(20,2);not null"`           // Deposited amount.
	DailyReturn decimal.Decimal `gorm:"type:decimal(20,2);not null"`           // Credited once per accrual date.
	TotalProfit decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Sum of accrual credits.

	TotalDays     int `gorm:"not null"` // Plan duration.
	DaysRemaining int `gorm:"not null"` // Accrual runs left before completion.

	Status        string `gorm:"type:varchar(16);not null;default:'active';index:idx_investments_status_account,priority:1"` // active or completed.
	PaymentMethod string `gorm:"type:varchar(32);not null;default:'upi'"`                                                    // How the principal was paid.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Activation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last accrual timestamp.
}
