package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/plans"
)

// PlanHandler lists the investment catalog.
type PlanHandler struct{}

// NewPlanHandler constructs a PlanHandler.
func NewPlanHandler() *PlanHandler { return &PlanHandler{} }

type planView struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	DailyRate   string   `json:"daily_rate"`
	Days        int      `json:"days"`
	Amounts     []string `json:"amounts"`
	DailyReturn []string `json:"daily_return"`
	TotalReturn []string `json:"total_return"`
}

// List returns every plan with the returns of each allowed deposit.
func (h *PlanHandler) List(c *gin.Context) {
	all := plans.All()
	out := make([]planView, 0, len(all))
	for _, plan := range all {
		view := planView{
			ID:        plan.ID,
			Name:      plan.Name,
			DailyRate: plan.Rate.String(),
			Days:      plan.Days,
		}
		for _, amount := range plan.Amounts {
			view.Amounts = append(view.Amounts, amount.StringFixed(2))
			view.DailyReturn = append(view.DailyReturn, plan.DailyReturn(amount).StringFixed(2))
			view.TotalReturn = append(view.TotalReturn, plan.TotalReturn(amount).StringFixed(2))
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}
