package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// InvestmentHandler serves the account's investments and opens deposit checkouts.
type InvestmentHandler struct {
	svc api.Services
}

// NewInvestmentHandler constructs an InvestmentHandler.
func NewInvestmentHandler(svc api.Services) *InvestmentHandler {
	return &InvestmentHandler{svc: svc}
}

// List returns every investment of the account, newest first.
func (h *InvestmentHandler) List(c *gin.Context) {
	rows, errList := h.svc.Ledger.ListByAccount(c.Request.Context(), getAccountID(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investments": investmentViews(rows)})
}

// Active returns the account's running investments, newest first.
func (h *InvestmentHandler) Active(c *gin.Context) {
	rows, errList := h.svc.Ledger.ListActive(c.Request.Context(), getAccountID(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investments": investmentViews(rows)})
}

type checkoutRequest struct {
	PlanID int             `json:"plan_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Checkout opens a payment intent for a plan deposit and starts watching it.
func (h *InvestmentHandler) Checkout(c *gin.Context) {
	var body checkoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	checkout, errOpen := h.svc.Payments.OpenIntent(c.Request.Context(), getAccountID(c), body.PlanID, body.Amount)
	if errOpen != nil {
		api.WriteError(c, errOpen)
		return
	}
	h.svc.Watcher.Watch(h.svc.WatchContext(), checkout.Intent)
	c.JSON(http.StatusCreated, api.NewCheckoutView(checkout))
}

func investmentViews(rows []models.Investment) []api.InvestmentView {
	out := make([]api.InvestmentView, 0, len(rows))
	for i := range rows {
		out = append(out, api.NewInvestmentView(&rows[i]))
	}
	return out
}
