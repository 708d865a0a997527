package api

import (
	"context"

	"github.com/investkar/ledger/internal/account"
	"github.com/investkar/ledger/internal/config"
	"github.com/investkar/ledger/internal/investment"
	"github.com/investkar/ledger/internal/payment"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/withdrawal"
	"gorm.io/gorm"
)

// Services bundles the ledger components the HTTP handlers call.
type Services struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Accounts    *account.Registry
	Ledger      *investment.Ledger
	Withdrawals *withdrawal.Workflow
	Payments    *payment.Reconciler
	Watcher     *payment.Watcher
	Cipher      *security.FieldCipher // Seals operator TOTP secrets at rest.

	// Background outlives individual requests; payment watchers run under it.
	Background context.Context
}

// WatchContext returns the context payment watchers should run under.
func (s Services) WatchContext() context.Context {
	if s.Background != nil {
		return s.Background
	}
	return context.Background()
}
