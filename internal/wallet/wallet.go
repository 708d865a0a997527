package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/metrics"
	"github.com/investkar/ledger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry describes one ledger posting.
type Entry struct {
	Kind                 string
	Amount               decimal.Decimal
	Description          string
	Reference            string
	BankDetailsEncrypted string
}

// Poster is the only path that mutates wallet balances. Every call must run inside the
// caller's transaction so the balance change and its Transaction row commit together.
type Poster interface {
	Credit(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error)
	Debit(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error)
	Record(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error)
}

// Book is the database-backed Poster.
type Book struct {
	now func() time.Time
}

// NewBook returns a Book using wall-clock time.
func NewBook() *Book {
	return &Book{now: func() time.Time { return time.Now().UTC() }}
}

// Credit adds entry.Amount to the wallet.
func (b *Book) Credit(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error) {
	if !entry.Amount.IsPositive() {
		return nil, apperr.Validation("credit amount must be positive")
	}
	return b.post(tx, accountID, entry, entry.Amount)
}

// Debit subtracts entry.Amount from the wallet and fails with ErrInsufficientFunds when the
// balance would go negative.
func (b *Book) Debit(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error) {
	if !entry.Amount.IsPositive() {
		return nil, apperr.Validation("debit amount must be positive")
	}
	return b.post(tx, accountID, entry, entry.Amount.Neg())
}

// Record appends an entry without touching the balance, e.g. an externally paid principal.
func (b *Book) Record(tx *gorm.DB, accountID uint64, entry Entry) (*models.Transaction, error) {
	if entry.Amount.IsNegative() {
		return nil, apperr.Validation("record amount must not be negative")
	}
	return b.post(tx, accountID, entry, decimal.Zero)
}

func (b *Book) post(tx *gorm.DB, accountID uint64, entry Entry, delta decimal.Decimal) (*models.Transaction, error) {
	if tx == nil {
		return nil, errors.New("wallet: nil tx")
	}
	var account models.Account
	if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "wallet_balance", "version").
		First(&account, accountID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("wallet: lock account: %w", errFind)
	}

	next := account.WalletBalance.Add(delta)
	if next.IsNegative() {
		metrics.WalletPostingsTotal.WithLabelValues(entry.Kind, "insufficient_funds").Inc()
		return nil, fmt.Errorf("account %d balance %s cannot cover %s: %w",
			accountID, account.WalletBalance.StringFixed(2), entry.Amount.StringFixed(2), apperr.ErrInsufficientFunds)
	}

	now := b.now()
	if !delta.IsZero() {
		res := tx.Model(&models.Account{}).
			Where("id = ? AND version = ?", account.ID, account.Version).
			Updates(map[string]any{
				"wallet_balance": next,
				"version":        account.Version + 1,
				"updated_at":     now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("wallet: update balance: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			metrics.WalletPostingsTotal.WithLabelValues(entry.Kind, "conflict").Inc()
			return nil, fmt.Errorf("account %d modified concurrently: %w", accountID, apperr.ErrConflict)
		}
	}

	row := models.Transaction{
		AccountID:            accountID,
		Kind:                 entry.Kind,
		Amount:               entry.Amount.Round(2),
		Delta:                delta.Round(2),
		BalanceAfter:         next.Round(2),
		Description:          entry.Description,
		BankDetailsEncrypted: entry.BankDetailsEncrypted,
		Status:               models.TransactionStatusCompleted,
		Reference:            entry.Reference,
		CreatedAt:            now,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("wallet: append transaction: %w", errCreate)
	}
	metrics.WalletPostingsTotal.WithLabelValues(entry.Kind, "ok").Inc()
	return &row, nil
}

// Balance returns the current wallet balance.
func Balance(ctx context.Context, db *gorm.DB, accountID uint64) (decimal.Decimal, error) {
	var account models.Account
	if errFind := db.WithContext(ctx).Select("id", "wallet_balance").First(&account, accountID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return decimal.Zero, fmt.Errorf("account %d: %w", accountID, apperr.ErrNotFound)
		}
		return decimal.Zero, errFind
	}
	return account.WalletBalance, nil
}

// Audit returns the stored balance and the sum of all posted deltas. They must be equal.
func Audit(ctx context.Context, db *gorm.DB, accountID uint64) (balance, posted decimal.Decimal, err error) {
	balance, err = Balance(ctx, db, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var deltas []decimal.Decimal
	if errPluck := db.WithContext(ctx).Model(&models.Transaction{}).
		Where("account_id = ?", accountID).
		Pluck("delta", &deltas).Error; errPluck != nil {
		return decimal.Zero, decimal.Zero, errPluck
	}
	posted = decimal.Zero
	for _, d := range deltas {
		posted = posted.Add(d)
	}
	return balance, posted, nil
}
