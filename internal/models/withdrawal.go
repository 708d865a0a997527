package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request status values.
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusCancelled = "cancelled"
)

// WithdrawalRequest is a user request to cash out part of the wallet.
type WithdrawalRequest struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`    // Primary key.
	AccountID uint64          `gorm:"not null;index"`              // Requesting account.
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null"` // Requested payout.

	BankDetailsEncrypted string `gorm:"type:text;not null"` // Encrypted payout destination.

	Status          string  `gorm:"type:varchar(16);not null;default:'pending';index"` // pending, completed or cancelled.
	PaymentIntentID *uint64 `gorm:"index"`                                             // Fee intent, when one was opened.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Request timestamp.
	ResolvedAt *time.Time `gorm:"type:timestamp"`          // Completion or cancellation timestamp.
}
