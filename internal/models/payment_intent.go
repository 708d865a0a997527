package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment intent kinds.
const (
	PaymentIntentKindInvestment = "investment"
	PaymentIntentKindWithdrawal = "withdrawal"
)

// Payment intent status values.
const (
	PaymentIntentStatusPending   = "pending"
	PaymentIntentStatusVerified  = "verified"
	PaymentIntentStatusCompleted = "completed"
	PaymentIntentStatusTimeout   = "timeout"
)

// PaymentIntent tracks an out-of-band UPI payment until it is reconciled.
type PaymentIntent struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`                // Primary key.
	TransactionID string `gorm:"type:varchar(64);not null;uniqueIndex"`   // Public payment reference.
	AccountID     uint64 `gorm:"not null;index"`                          // Paying account.
	Kind          string `gorm:"type:varchar(16);not null;default:'investment'"` // investment or withdrawal.

	PlanID       int     // Plan to activate for investment intents.
	WithdrawalID *uint64 `gorm:"index"` // Withdrawal to complete for fee intents.

	Amount decimal.Decimal `gorm:"type:decimal(20,2);not null"` // Amount the payer must send.

	Status               string `gorm:"type:varchar(16);not null;default:'pending';index"` // pending, verified, completed or timeout.
	VerificationAttempts int    `gorm:"not null;default:0"`                                // Reconcile calls seen while pending.
	RefundDue            bool   `gorm:"not null;default:false"`                            // Paid fee whose withdrawal was already resolved.

	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	VerifiedAt  *time.Time `gorm:"type:timestamp"`          // Confirmation timestamp.
	CompletedAt *time.Time `gorm:"type:timestamp"`          // Side effect timestamp.
}
