package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/http/api"
)

// PaymentHandler reports payment intent state to the payer.
type PaymentHandler struct {
	svc api.Services
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc api.Services) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// List returns the account's payment intents, newest first.
func (h *PaymentHandler) List(c *gin.Context) {
	rows, errList := h.svc.Payments.ListByAccount(c.Request.Context(), getAccountID(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	out := make([]api.IntentView, 0, len(rows))
	for i := range rows {
		out = append(out, api.NewIntentView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

// Status returns one intent and its deadline. Intents of other accounts are reported as missing.
func (h *PaymentHandler) Status(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	intent, errFind := h.svc.Payments.Get(c.Request.Context(), transactionID)
	if errFind == nil && intent.AccountID != getAccountID(c) {
		errFind = fmt.Errorf("payment intent %s: %w", transactionID, apperr.ErrNotFound)
	}
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":  api.NewIntentView(intent),
		"deadline": h.svc.Payments.Deadline(intent),
	})
}
