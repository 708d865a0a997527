package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/investment"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/security"
)

// RunAccrual runs the daily accrual for date (YYYY-MM-DD) or, when empty, for today.
func (rt *Runtime) RunAccrual(ctx context.Context, date string) (*investment.AccrualReport, error) {
	day := rt.Ledger.Today()
	if strings.TrimSpace(date) != "" {
		parsed, err := rt.Ledger.ParseRunDate(date)
		if err != nil {
			return nil, err
		}
		day = parsed
	}
	return rt.Ledger.RunDailyAccrual(ctx, day)
}

// CreateAdmin stores an operator with a bcrypt hashed password.
func (rt *Runtime) CreateAdmin(ctx context.Context, username, password string) (*models.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	admin := models.Admin{Username: username, Password: hash, Active: true}
	if errCreate := rt.DB.WithContext(ctx).Create(&admin).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("admin %q: %w", username, apperr.ErrConflict)
		}
		return nil, errCreate
	}
	return &admin, nil
}

// VerifyPayment marks an intent verified and reconciles it. It reports whether the side
// effect has been applied.
func (rt *Runtime) VerifyPayment(ctx context.Context, transactionID string) (bool, error) {
	if _, err := rt.Payments.MarkVerified(ctx, transactionID); err != nil {
		return false, err
	}
	return rt.Payments.Reconcile(ctx, transactionID)
}

// ApproveWithdrawal completes a pending withdrawal.
func (rt *Runtime) ApproveWithdrawal(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	return rt.Withdrawals.Approve(ctx, id)
}

// CancelWithdrawal cancels a pending withdrawal.
func (rt *Runtime) CancelWithdrawal(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	return rt.Withdrawals.Cancel(ctx, id)
}
