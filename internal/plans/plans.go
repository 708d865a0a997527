package plans

import (
	"fmt"
	"sort"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/shopspring/decimal"
)

// Plan is a fixed investment product.
type Plan struct {
	ID      int               `json:"id"`
	Name    string            `json:"name"`
	Rate    decimal.Decimal   `json:"daily_rate"`
	Days    int               `json:"days"`
	Amounts []decimal.Decimal `json:"amounts"`
}

var catalog = map[int]Plan{
	1: {ID: 1, Name: "Starter", Rate: decimal.RequireFromString("0.04"), Days: 80, Amounts: amounts(599, 1099)},
	2: {ID: 2, Name: "Growth", Rate: decimal.RequireFromString("0.04"), Days: 110, Amounts: amounts(1799, 3050)},
	3: {ID: 3, Name: "Premium", Rate: decimal.RequireFromString("0.05"), Days: 150, Amounts: amounts(10000, 20000)},
}

func amounts(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.NewFromInt(v))
	}
	return out
}

// Get returns the plan with the given id.
func Get(id int) (Plan, error) {
	plan, ok := catalog[id]
	if !ok {
		return Plan{}, fmt.Errorf("plan %d: %w", id, apperr.ErrNotFound)
	}
	return plan, nil
}

// All returns every plan ordered by id.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, plan := range catalog {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AcceptsAmount reports whether amount is one of the plan's fixed deposits.
func (p Plan) AcceptsAmount(amount decimal.Decimal) bool {
	for _, allowed := range p.Amounts {
		if allowed.Equal(amount) {
			return true
		}
	}
	return false
}

// DailyReturn is principal times the plan rate, rounded to paise.
func (p Plan) DailyReturn(principal decimal.Decimal) decimal.Decimal {
	return principal.Mul(p.Rate).Round(2)
}

// TotalReturn is the payout across the whole plan duration.
func (p Plan) TotalReturn(principal decimal.Decimal) decimal.Decimal {
	return p.DailyReturn(principal).Mul(decimal.NewFromInt(int64(p.Days)))
}
