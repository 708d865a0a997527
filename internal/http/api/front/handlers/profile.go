package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// defaultHistoryLimit is the number of transactions shown when no limit is given.
const defaultHistoryLimit = 20

// ProfileHandler serves the signed-in account's profile and wallet.
type ProfileHandler struct {
	svc api.Services
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(svc api.Services) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

// Get returns the account with its decrypted phone number.
func (h *ProfileHandler) Get(c *gin.Context) {
	account, errFind := h.svc.Accounts.Get(c.Request.Context(), getAccountID(c))
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	phone, errPhone := h.svc.Accounts.Phone(account)
	if errPhone != nil {
		log.WithError(errPhone).Warnf("decrypt phone for account %d", account.ID)
		phone = ""
	}
	c.JSON(http.StatusOK, api.NewAccountView(account, phone))
}

// Wallet returns the balance together with investment totals.
func (h *ProfileHandler) Wallet(c *gin.Context) {
	ctx := c.Request.Context()
	accountID := getAccountID(c)
	account, errFind := h.svc.Accounts.Get(ctx, accountID)
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	active, errList := h.svc.Ledger.ListActive(ctx, accountID)
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	invested, profit, daily := decimal.Zero, decimal.Zero, decimal.Zero
	for _, inv := range active {
		invested = invested.Add(inv.Principal)
		profit = profit.Add(inv.TotalProfit)
		daily = daily.Add(inv.DailyReturn)
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":            account.WalletBalance.StringFixed(2),
		"balance_display":    wallet.FormatINR(account.WalletBalance),
		"active_investments": len(active),
		"invested":           invested.StringFixed(2),
		"total_profit":       profit.StringFixed(2),
		"daily_income":       daily.StringFixed(2),
	})
}

// Transactions returns the latest ledger entries, newest first.
func (h *ProfileHandler) Transactions(c *gin.Context) {
	limit := api.QueryLimit(c, defaultHistoryLimit, 200)
	rows, errList := h.svc.Accounts.Transactions(c.Request.Context(), getAccountID(c), limit)
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	out := make([]api.TransactionView, 0, len(rows))
	for i := range rows {
		bank := ""
		if rows[i].BankDetailsEncrypted != "" {
			if plain, errDecrypt := h.svc.Accounts.BankDetails(rows[i].BankDetailsEncrypted); errDecrypt == nil {
				bank = plain
			} else {
				log.WithError(errDecrypt).Warnf("decrypt bank details for transaction %d", rows[i].ID)
			}
		}
		out = append(out, api.NewTransactionView(&rows[i], bank))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}
