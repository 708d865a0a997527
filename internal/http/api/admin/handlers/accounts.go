package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// AccountHandler lets operators inspect and correct investor accounts.
type AccountHandler struct {
	svc api.Services
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(svc api.Services) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// List returns accounts newest first with their phone numbers decrypted.
func (h *AccountHandler) List(c *gin.Context) {
	rows, total, errList := h.svc.Accounts.List(c.Request.Context(), api.QueryLimit(c, 50, 200), api.QueryOffset(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	out := make([]api.AccountView, 0, len(rows))
	for i := range rows {
		out = append(out, api.NewAccountView(&rows[i], h.phone(&rows[i])))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out, "total": total})
}

// Get returns one account with its investments and a ledger audit.
func (h *AccountHandler) Get(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	account, errFind := h.svc.Accounts.Get(ctx, id)
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	investments, errList := h.svc.Ledger.ListByAccount(ctx, id)
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	balance, posted, errAudit := wallet.Audit(ctx, h.svc.DB, id)
	if errAudit != nil {
		api.WriteError(c, errAudit)
		return
	}
	views := make([]api.InvestmentView, 0, len(investments))
	for i := range investments {
		views = append(views, api.NewInvestmentView(&investments[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"account":     api.NewAccountView(account, h.phone(account)),
		"investments": views,
		"audit": gin.H{
			"balance":    balance.StringFixed(2),
			"posted":     posted.StringFixed(2),
			"consistent": balance.Equal(posted),
		},
	})
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// Adjust credits or debits the wallet by a signed amount with a recorded reason.
func (h *AccountHandler) Adjust(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body adjustRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	txn, errAdjust := h.svc.Accounts.AdjustWallet(c.Request.Context(), id, body.Amount, body.Reason)
	if errAdjust != nil {
		api.WriteError(c, errAdjust)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{
		"admin_id":   adminID,
		"account_id": id,
		"delta":      txn.Delta.StringFixed(2),
	}).Info("admin wallet adjustment")
	c.JSON(http.StatusOK, api.NewTransactionView(txn, ""))
}

// Delete erases an account and everything it owns.
func (h *AccountHandler) Delete(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if errDelete := h.svc.Accounts.Delete(c.Request.Context(), id); errDelete != nil {
		api.WriteError(c, errDelete)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{"admin_id": adminID, "account_id": id}).Warn("account deleted by operator")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Transactions lists ledger entries across accounts, optionally filtered by account and kind.
func (h *AccountHandler) Transactions(c *gin.Context) {
	q := h.svc.DB.WithContext(c.Request.Context()).Model(&models.Transaction{})
	if raw := strings.TrimSpace(c.Query("account_id")); raw != "" {
		accountID, errParse := api.ParseUintParam(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
			return
		}
		q = q.Where("account_id = ?", accountID)
	}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var rows []models.Transaction
	if errFind := q.Order("created_at DESC, id DESC").
		Limit(api.QueryLimit(c, 100, 500)).
		Offset(api.QueryOffset(c)).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]api.TransactionView, 0, len(rows))
	for i := range rows {
		bank := ""
		if rows[i].BankDetailsEncrypted != "" {
			if plain, errDecrypt := h.svc.Accounts.BankDetails(rows[i].BankDetailsEncrypted); errDecrypt == nil {
				bank = plain
			}
		}
		out = append(out, api.NewTransactionView(&rows[i], bank))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *AccountHandler) phone(account *models.Account) string {
	phone, errPhone := h.svc.Accounts.Phone(account)
	if errPhone != nil {
		log.WithError(errPhone).Warnf("decrypt phone for account %d", account.ID)
		return ""
	}
	return phone
}
