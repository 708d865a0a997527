package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreditWallet adds amount to the account's wallet and appends the matching transaction.
func (r *Registry) CreditWallet(ctx context.Context, accountID uint64, kind string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	var row *models.Transaction
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = r.book.Credit(tx, accountID, wallet.Entry{Kind: kind, Amount: amount, Description: description})
		return err
	})
	if errTx != nil {
		return nil, errTx
	}
	return row, nil
}

// DebitWallet subtracts amount from the account's wallet. It fails with
// apperr.ErrInsufficientFunds and leaves no trace when the balance is too low.
func (r *Registry) DebitWallet(ctx context.Context, accountID uint64, kind string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	var row *models.Transaction
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = r.book.Debit(tx, accountID, wallet.Entry{Kind: kind, Amount: amount, Description: description})
		return err
	})
	if errTx != nil {
		return nil, errTx
	}
	return row, nil
}

// AdjustWallet applies an operator correction. Positive deltas credit, negative deltas debit.
func (r *Registry) AdjustWallet(ctx context.Context, accountID uint64, delta decimal.Decimal, reason string) (*models.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("adjustment reason is required")
	}
	if delta.IsZero() {
		return nil, apperr.Validation("adjustment must be non-zero")
	}
	description := fmt.Sprintf("Admin adjustment: %s", reason)
	var (
		row *models.Transaction
		err error
	)
	if delta.IsPositive() {
		row, err = r.CreditWallet(ctx, accountID, models.TransactionKindAdminAdjustment, delta, description)
	} else {
		row, err = r.DebitWallet(ctx, accountID, models.TransactionKindAdminAdjustment, delta.Abs(), description)
	}
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"account_id": accountID,
		"delta":      delta.StringFixed(2),
	}).Infof("wallet adjusted by operator: %s", reason)
	ev := events.New(events.WalletAdjusted, accountID, "", delta.StringFixed(2))
	ev.Data = map[string]any{"reason": reason}
	events.Emit(ctx, r.publisher, ev)
	return row, nil
}

// Transactions returns the latest transactions for an account, newest first.
func (r *Registry) Transactions(ctx context.Context, accountID uint64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	var rows []models.Transaction
	if errFind := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// BankDetails decrypts the payout details stored on a withdrawal transaction or request.
func (r *Registry) BankDetails(encrypted string) (string, error) {
	if strings.TrimSpace(encrypted) == "" {
		return "", nil
	}
	return r.cipher.Decrypt(encrypted)
}
