package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// WithdrawalHandler serves the account's withdrawal requests.
type WithdrawalHandler struct {
	svc api.Services
}

// NewWithdrawalHandler constructs a WithdrawalHandler.
func NewWithdrawalHandler(svc api.Services) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

type withdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	BankDetails string          `json:"bank_details"`
}

// Create files a withdrawal request.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	var body withdrawalRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, errRequest := h.svc.Withdrawals.Request(c.Request.Context(), getAccountID(c), body.Amount, body.BankDetails)
	if errRequest != nil {
		api.WriteError(c, errRequest)
		return
	}
	c.JSON(http.StatusCreated, api.NewWithdrawalView(req, body.BankDetails))
}

// List returns the account's withdrawal requests, newest first.
func (h *WithdrawalHandler) List(c *gin.Context) {
	rows, errList := h.svc.Withdrawals.ListByAccount(c.Request.Context(), getAccountID(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	out := make([]api.WithdrawalView, 0, len(rows))
	for i := range rows {
		bank, errDecrypt := h.svc.Withdrawals.BankDetails(&rows[i])
		if errDecrypt != nil {
			log.WithError(errDecrypt).Warnf("decrypt bank details for withdrawal %d", rows[i].ID)
		}
		out = append(out, api.NewWithdrawalView(&rows[i], bank))
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": out})
}

// FeeCheckout opens the processing fee intent for a pending withdrawal.
func (h *WithdrawalHandler) FeeCheckout(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	checkout, errOpen := h.svc.Payments.OpenWithdrawalIntent(c.Request.Context(), getAccountID(c), id)
	if errOpen != nil {
		api.WriteError(c, errOpen)
		return
	}
	h.svc.Watcher.Watch(h.svc.WatchContext(), checkout.Intent)
	c.JSON(http.StatusCreated, api.NewCheckoutView(checkout))
}
