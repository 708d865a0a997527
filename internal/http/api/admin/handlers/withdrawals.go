package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	log "github.com/sirupsen/logrus"
)

// WithdrawalHandler serves the operator side of the withdrawal workflow.
type WithdrawalHandler struct {
	svc api.Services
}

// NewWithdrawalHandler constructs a WithdrawalHandler.
func NewWithdrawalHandler(svc api.Services) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

// Pending lists pending withdrawals oldest first with decrypted bank details.
func (h *WithdrawalHandler) Pending(c *gin.Context) {
	rows, errList := h.svc.Withdrawals.ListPending(c.Request.Context())
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

// Approve completes a pending withdrawal and debits the wallet.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, errApprove := h.svc.Withdrawals.Approve(c.Request.Context(), id)
	if errApprove != nil {
		api.WriteError(c, errApprove)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{"admin_id": adminID, "withdrawal_id": id}).Info("withdrawal approved by operator")
	c.JSON(http.StatusOK, api.NewWithdrawalView(req, ""))
}

// Cancel rejects a pending withdrawal without touching the wallet.
func (h *WithdrawalHandler) Cancel(c *gin.Context) {
	id, errParse := api.ParseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	req, errCancel := h.svc.Withdrawals.Cancel(c.Request.Context(), id)
	if errCancel != nil {
		api.WriteError(c, errCancel)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{"admin_id": adminID, "withdrawal_id": id}).Info("withdrawal cancelled by operator")
	c.JSON(http.StatusOK, api.NewWithdrawalView(req, ""))
}
