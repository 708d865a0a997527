package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds.
const (
	TransactionKindInvestment      = "investment"
	TransactionKindReturn          = "return"
	TransactionKindWithdrawal      = "withdrawal"
	TransactionKindReferral        = "referral"
	TransactionKindAdminAdjustment = "admin_adjustment"
)

// TransactionStatusCompleted is the only status written by the ledger.
const TransactionStatusCompleted = "completed"

// Transaction is an append-only ledger entry. Rows are never updated.
type Transaction struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`   // Primary key.
	AccountID uint64 `gorm:"not null;index"`             // Owning account.
	Kind      string `gorm:"type:varchar(32);not null"` // Entry kind.

	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null"`           // Magnitude of the movement.
	Delta        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Signed wallet effect, zero for records.
	BalanceAfter decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"` // Wallet balance after the entry.

	Description          string `gorm:"type:text"`                                         // Human readable note.
	BankDetailsEncrypted string `gorm:"type:text"`                                         // Encrypted payout details for withdrawals.
	Status               string `gorm:"type:varchar(16);not null;default:'completed'"`     // Entry status.
	Reference            string `gorm:"type:varchar(64);index"`                            // Accrual run id or payment transaction id.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Posting timestamp.
}
