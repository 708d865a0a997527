package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	log "github.com/sirupsen/logrus"
)

// PaymentHandler lets operators confirm and inspect payment intents.
type PaymentHandler struct {
	svc api.Services
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(svc api.Services) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// List returns intents newest first, optionally filtered by status.
func (h *PaymentHandler) List(c *gin.Context) {
	rows, errList := h.svc.Payments.List(c.Request.Context(), strings.TrimSpace(c.Query("status")), api.QueryLimit(c, 100, 500), api.QueryOffset(c))
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

// Verify records that the money arrived and reconciles the intent straight away. A failed
// reconcile leaves the intent verified for the watcher or sweeper to retry.
func (h *PaymentHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	if _, errVerify := h.svc.Payments.MarkVerified(ctx, transactionID); errVerify != nil {
		api.WriteError(c, errVerify)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{"admin_id": adminID, "transaction_id": transactionID}).Info("payment verified by operator")
	h.respondReconciled(c, transactionID)
}

// Reconcile retries the side effect of a verified intent.
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	h.respondReconciled(c, strings.TrimSpace(c.Param("transaction_id")))
}

func (h *PaymentHandler) respondReconciled(c *gin.Context, transactionID string) {
	ctx := c.Request.Context()
	done, errReconcile := h.svc.Payments.Reconcile(ctx, transactionID)
	intent, errFind := h.svc.Payments.Get(ctx, transactionID)
	if errFind != nil {
		api.WriteError(c, errFind)
		return
	}
	resp := gin.H{
		"payment":   api.NewIntentView(intent),
		"completed": done,
	}
	if errReconcile != nil {
		status := api.StatusFor(errReconcile)
		if status == http.StatusInternalServerError {
			log.WithError(errReconcile).Errorf("reconcile %s failed", transactionID)
			resp["reconcile_error"] = "internal error"
		} else {
			resp["reconcile_error"] = errReconcile.Error()
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
