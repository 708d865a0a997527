package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DashboardHandler reports platform totals.
type DashboardHandler struct {
	db *gorm.DB
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{db: db}
}

// Stats returns account, investment, withdrawal and payment totals.
func (h *DashboardHandler) Stats(c *gin.Context) {
	conn := h.db.WithContext(c.Request.Context())

	var accounts, activeInvestments, completedInvestments, pendingWithdrawals, openPayments int64
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&accounts, conn.Model(&models.Account{})},
		{&activeInvestments, conn.Model(&models.Investment{}).Where("status = ?", models.InvestmentStatusActive)},
		{&completedInvestments, conn.Model(&models.Investment{}).Where("status = ?", models.InvestmentStatusCompleted)},
		{&pendingWithdrawals, conn.Model(&models.WithdrawalRequest{}).Where("status = ?", models.WithdrawalStatusPending)},
		{&openPayments, conn.Model(&models.PaymentIntent{}).Where("status IN ?", []string{models.PaymentIntentStatusPending, models.PaymentIntentStatusVerified})},
	}
	for _, item := range counts {
		if errCount := item.query.Count(item.dest).Error; errCount != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
	}

	sums := []struct {
		key    string
		column string
		query  *gorm.DB
	}{
		{"wallet_total", "wallet_balance", conn.Model(&models.Account{})},
		{"invested_active", "principal", conn.Model(&models.Investment{}).Where("status = ?", models.InvestmentStatusActive)},
		{"daily_payout", "daily_return", conn.Model(&models.Investment{}).Where("status = ?", models.InvestmentStatusActive)},
		{"returns_paid", "amount", conn.Model(&models.Transaction{}).Where("kind = ?", models.TransactionKindReturn)},
		{"withdrawn", "amount", conn.Model(&models.Transaction{}).Where("kind = ?", models.TransactionKindWithdrawal)},
		{"pending_withdrawal_amount", "amount", conn.Model(&models.WithdrawalRequest{}).Where("status = ?", models.WithdrawalStatusPending)},
	}
	totals := gin.H{}
	for _, item := range sums {
		total, errSum := sumColumn(item.query, item.column)
		if errSum != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		totals[item.key] = total.StringFixed(2)
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":              accounts,
		"active_investments":    activeInvestments,
		"completed_investments": completedInvestments,
		"pending_withdrawals":   pendingWithdrawals,
		"open_payments":         openPayments,
		"totals":                totals,
	})
}

// sumColumn sums a decimal column. Drivers report the aggregate as text or float, so the
// result is rounded back to paise.
func sumColumn(query *gorm.DB, column string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if errScan := query.Select("SUM(" + column + ")").Row().Scan(&total); errScan != nil {
		return decimal.Zero, errScan
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(2), nil
}
