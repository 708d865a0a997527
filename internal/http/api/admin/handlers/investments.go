package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/http/api"
	log "github.com/sirupsen/logrus"
)

// InvestmentHandler lists investments and drives accrual runs.
type InvestmentHandler struct {
	svc api.Services
}

// NewInvestmentHandler constructs an InvestmentHandler.
func NewInvestmentHandler(svc api.Services) *InvestmentHandler {
	return &InvestmentHandler{svc: svc}
}

// List returns investments across accounts, optionally filtered by status.
func (h *InvestmentHandler) List(c *gin.Context) {
	rows, errList := h.svc.Ledger.ListAll(c.Request.Context(), strings.TrimSpace(c.Query("status")), api.QueryLimit(c, 100, 500), api.QueryOffset(c))
	if errList != nil {
		api.WriteError(c, errList)
		return
	}
	out := make([]api.InvestmentView, 0, len(rows))
	for i := range rows {
		out = append(out, api.NewInvestmentView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"investments": out})
}

type accrualRequest struct {
	Date string `json:"date"`
}

// RunAccrual runs the daily accrual for today or the given date. A date that already ran
// reports skipped without changing anything.
func (h *InvestmentHandler) RunAccrual(c *gin.Context) {
	var body accrualRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	day := h.svc.Ledger.Today()
	if strings.TrimSpace(body.Date) != "" {
		parsed, errParse := h.svc.Ledger.ParseRunDate(body.Date)
		if errParse != nil {
			api.WriteError(c, errParse)
			return
		}
		day = parsed
	}
	report, errRun := h.svc.Ledger.RunDailyAccrual(c.Request.Context(), day)
	if errRun != nil {
		api.WriteError(c, errRun)
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{
		"admin_id": adminID,
		"run_date": report.RunDate,
		"skipped":  report.Skipped,
	}).Info("accrual triggered by operator")
	c.JSON(http.StatusOK, gin.H{
		"run_date":       report.RunDate,
		"run_id":         report.RunID,
		"skipped":        report.Skipped,
		"credited":       report.Credited,
		"completed":      report.Completed,
		"total_credited": report.TotalCredited.StringFixed(2),
	})
}

// LastRun reports the most recent accrual run.
func (h *InvestmentHandler) LastRun(c *gin.Context) {
	run, errRun := h.svc.Ledger.LastRun(c.Request.Context())
	if errRun != nil {
		api.WriteError(c, errRun)
		return
	}
	if run == nil {
		c.JSON(http.StatusOK, gin.H{"run": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": gin.H{
		"run_date":  run.RunDate,
		"run_id":    run.RunID,
		"credited":  run.Credited,
		"completed": run.Completed,
		"summary":   run.Summary,
		"run_at":    run.RunAt,
	}})
}
