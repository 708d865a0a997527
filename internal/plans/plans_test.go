package plans

import (
	"errors"
	"testing"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/shopspring/decimal"
)

func TestPlanCatalog(t *testing.T) {
	all := All()
	if len(all) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(all))
	}
	for i, plan := range all {
		if plan.ID != i+1 {
			t.Fatalf("expected plans ordered by id, got %d at %d", plan.ID, i)
		}
	}
	premium, err := Get(3)
	if err != nil {
		t.Fatalf("get premium: %v", err)
	}
	if premium.Days != 150 || !premium.Rate.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("unexpected premium plan %+v", premium)
	}
	if _, err := Get(9); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDailyReturnRoundsToPaise(t *testing.T) {
	starter, _ := Get(1)
	if got := starter.DailyReturn(decimal.NewFromInt(599)); got.String() != "23.96" {
		t.Fatalf("expected 23.96, got %s", got)
	}
	if got := starter.DailyReturn(decimal.RequireFromString("1099")); got.String() != "43.96" {
		t.Fatalf("expected 43.96, got %s", got)
	}
	if got := starter.TotalReturn(decimal.NewFromInt(599)); got.String() != "1916.8" {
		t.Fatalf("expected 1916.8, got %s", got)
	}
}

func TestAcceptsAmount(t *testing.T) {
	growth, _ := Get(2)
	if !growth.AcceptsAmount(decimal.RequireFromString("3050.00")) {
		t.Fatalf("expected 3050 to be accepted")
	}
	if growth.AcceptsAmount(decimal.NewFromInt(599)) {
		t.Fatalf("expected 599 to be rejected for growth")
	}
}
