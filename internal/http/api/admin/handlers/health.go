package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/investment"
	"gorm.io/gorm"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db     *gorm.DB
	ledger *investment.Ledger
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, ledger *investment.Ledger) *HealthHandler {
	return &HealthHandler{db: db, ledger: ledger}
}

// Healthz checks database connectivity and reports the last accrual date.
func (h *HealthHandler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	resp := gin.H{"ok": true}
	if h.ledger != nil {
		if run, errRun := h.ledger.LastRun(c.Request.Context()); errRun == nil && run != nil {
			resp["last_accrual_date"] = run.RunDate
		}
	}
	c.JSON(http.StatusOK, resp)
}
