package investment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/metrics"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/plans"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunDateLayout is the calendar date format used for accrual runs.
const RunDateLayout = "2006-01-02"

// errAlreadyRan aborts an accrual transaction whose date was claimed by another run.
var errAlreadyRan = errors.New("accrual already ran for date")

// Ledger activates investments and accrues their daily returns.
type Ledger struct {
	db        *gorm.DB
	book      wallet.Poster
	publisher events.Publisher
	location  *time.Location
	now       func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithPoster replaces the wallet poster.
func WithPoster(p wallet.Poster) Option { return func(l *Ledger) { l.book = p } }

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(l *Ledger) { l.publisher = p } }

// WithLocation sets the timezone that defines calendar dates for accrual.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// NewLedger constructs a Ledger.
func NewLedger(conn *gorm.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:        conn,
		book:      wallet.NewBook(),
		publisher: events.Fallback{},
		location:  time.UTC,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today returns the current calendar date in the ledger's timezone.
func (l *Ledger) Today() time.Time {
	return l.now().In(l.location)
}

// ParseRunDate parses a YYYY-MM-DD calendar date in the ledger's timezone.
func (l *Ledger) ParseRunDate(value string) (time.Time, error) {
	day, err := time.ParseInLocation(RunDateLayout, strings.TrimSpace(value), l.location)
	if err != nil {
		return time.Time{}, apperr.Validation("run date %q must be YYYY-MM-DD", value)
	}
	return day, nil
}

// Activate creates an investment and credits its first-day return immediately.
func (l *Ledger) Activate(ctx context.Context, accountID uint64, planID int, principal decimal.Decimal, paymentMethod string) (*models.Investment, error) {
	var inv *models.Investment
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = l.ActivateTx(tx, accountID, planID, principal, paymentMethod, "")
		return err
	})
	if errTx != nil {
		return nil, errTx
	}
	l.PublishActivated(ctx, inv, "")
	return inv, nil
}

// ActivateTx is Activate inside the caller's transaction. reference links the ledger
// entries to the payment that funded the investment.
func (l *Ledger) ActivateTx(tx *gorm.DB, accountID uint64, planID int, principal decimal.Decimal, paymentMethod, reference string) (*models.Investment, error) {
	plan, err := plans.Get(planID)
	if err != nil {
		return nil, err
	}
	if !plan.AcceptsAmount(principal) {
		return nil, apperr.Validation("amount %s is not offered by plan %d", principal.StringFixed(2), planID)
	}
	if strings.TrimSpace(paymentMethod) == "" {
		paymentMethod = "upi"
	}

	daily := plan.DailyReturn(principal)
	now := l.now()
	inv := models.Investment{
		AccountID:     accountID,
		PlanID:        plan.ID,
		Principal:     principal.Round(2),
		DailyReturn:   daily,
		TotalProfit:   decimal.Zero,
		TotalDays:     plan.Days,
		DaysRemaining: plan.Days,
		Status:        models.InvestmentStatusActive,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errCreate := tx.Create(&inv).Error; errCreate != nil {
		return nil, fmt.Errorf("create investment: %w", errCreate)
	}
	if _, errRecord := l.book.Record(tx, accountID, wallet.Entry{
		Kind:        models.TransactionKindInvestment,
		Amount:      principal,
		Description: fmt.Sprintf("Investment in %s plan (%s)", plan.Name, wallet.FormatINR(principal)),
		Reference:   reference,
	}); errRecord != nil {
		return nil, errRecord
	}
	if _, errCredit := l.book.Credit(tx, accountID, wallet.Entry{
		Kind:        models.TransactionKindReturn,
		Amount:      daily,
		Description: fmt.Sprintf("First day return from %s plan", plan.Name),
		Reference:   reference,
	}); errCredit != nil {
		return nil, errCredit
	}
	return &inv, nil
}

// PublishActivated emits the activation event. Call it after the activating transaction commits.
func (l *Ledger) PublishActivated(ctx context.Context, inv *models.Investment, reference string) {
	if inv == nil {
		return
	}
	ev := events.New(events.InvestmentActivated, inv.AccountID, reference, inv.Principal.StringFixed(2))
	ev.Data = map[string]any{"investment_id": inv.ID, "plan_id": inv.PlanID}
	events.Emit(ctx, l.publisher, ev)
}

// AccrualReport summarizes one RunDailyAccrual call.
type AccrualReport struct {
	RunDate       string          `json:"run_date"`
	RunID         string          `json:"run_id,omitempty"`
	Skipped       bool            `json:"skipped"`
	Credited      int             `json:"credited"`
	Completed     int             `json:"completed"`
	TotalCredited decimal.Decimal `json:"total_credited"`
}

// RunDailyAccrual credits one day of return to every active investment, at most once per
// calendar date. A date already claimed by another run yields a skipped report and no changes.
// Any failure rolls back the whole run, including the date claim, so it can be retried.
func (l *Ledger) RunDailyAccrual(ctx context.Context, day time.Time) (*AccrualReport, error) {
	runDate := day.In(l.location).Format(RunDateLayout)
	report := &AccrualReport{RunDate: runDate, TotalCredited: decimal.Zero}
	var completed []models.Investment

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		runID := uuid.NewString()
		run := models.DailyRunLog{
			RunDate: runDate,
			RunID:   runID,
			Summary: datatypes.JSON([]byte("{}")),
			RunAt:   l.now(),
		}
		if errClaim := tx.Create(&run).Error; errClaim != nil {
			if db.IsUniqueViolation(errClaim) {
				return errAlreadyRan
			}
			return fmt.Errorf("claim run date: %w", errClaim)
		}
		report.RunID = runID

		var active []models.Investment
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ?", models.InvestmentStatusActive).
			Order("account_id ASC, id ASC").
			Find(&active).Error; errFind != nil {
			return fmt.Errorf("load active investments: %w", errFind)
		}

		for i := range active {
			inv := active[i]
			plan, errPlan := plans.Get(inv.PlanID)
			planName := fmt.Sprintf("Plan %d", inv.PlanID)
			if errPlan == nil {
				planName = plan.Name + " plan"
			}
			if _, errCredit := l.book.Credit(tx, inv.AccountID, wallet.Entry{
				Kind:        models.TransactionKindReturn,
				Amount:      inv.DailyReturn,
				Description: fmt.Sprintf("Daily return from %s", planName),
				Reference:   runID,
			}); errCredit != nil {
				return fmt.Errorf("credit investment %d: %w", inv.ID, errCredit)
			}

			daysRemaining := inv.DaysRemaining - 1
			status := models.InvestmentStatusActive
			if daysRemaining <= 0 {
				daysRemaining = 0
				status = models.InvestmentStatusCompleted
			}
			res := tx.Model(&models.Investment{}).
				Where("id = ? AND status = ? AND days_remaining = ?", inv.ID, models.InvestmentStatusActive, inv.DaysRemaining).
				Updates(map[string]any{
					"days_remaining": daysRemaining,
					"total_profit":   inv.TotalProfit.Add(inv.DailyReturn),
					"status":         status,
					"updated_at":     l.now(),
				})
			if res.Error != nil {
				return fmt.Errorf("advance investment %d: %w", inv.ID, res.Error)
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("investment %d changed during accrual: %w", inv.ID, apperr.ErrConflict)
			}

			report.Credited++
			report.TotalCredited = report.TotalCredited.Add(inv.DailyReturn)
			if status == models.InvestmentStatusCompleted {
				report.Completed++
				completed = append(completed, inv)
			}
		}

		summary, errJSON := json.Marshal(map[string]any{
			"run_id":         runID,
			"credited":       report.Credited,
			"completed":      report.Completed,
			"total_credited": report.TotalCredited.StringFixed(2),
		})
		if errJSON != nil {
			return errJSON
		}
		return tx.Model(&models.DailyRunLog{}).Where("run_date = ?", runDate).Updates(map[string]any{
			"credited":  report.Credited,
			"completed": report.Completed,
			"summary":   datatypes.JSON(summary),
		}).Error
	})
	if errTx != nil {
		if errors.Is(errTx, errAlreadyRan) {
			metrics.AccrualRunsTotal.WithLabelValues("skipped").Inc()
			report.Skipped = true
			report.RunID = ""
			return report, nil
		}
		metrics.AccrualRunsTotal.WithLabelValues("failed").Inc()
		return nil, errTx
	}

	metrics.AccrualRunsTotal.WithLabelValues("executed").Inc()
	metrics.AccrualCreditedTotal.Add(float64(report.Credited))
	log.WithFields(log.Fields{
		"run_date":  report.RunDate,
		"run_id":    report.RunID,
		"credited":  report.Credited,
		"completed": report.Completed,
		"total":     report.TotalCredited.StringFixed(2),
	}).Info("daily accrual executed")

	ev := events.New(events.AccrualCompleted, 0, report.RunID, report.TotalCredited.StringFixed(2))
	ev.Data = map[string]any{"run_date": report.RunDate, "credited": report.Credited, "completed": report.Completed}
	events.Emit(ctx, l.publisher, ev)
	for _, inv := range completed {
		done := events.New(events.InvestmentCompleted, inv.AccountID, report.RunID, inv.Principal.StringFixed(2))
		done.Data = map[string]any{"investment_id": inv.ID}
		events.Emit(ctx, l.publisher, done)
	}
	return report, nil
}

// ListActive returns the account's active investments, newest first.
func (l *Ledger) ListActive(ctx context.Context, accountID uint64) ([]models.Investment, error) {
	var rows []models.Investment
	if errFind := l.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, models.InvestmentStatusActive).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// ListByAccount returns all of the account's investments, newest first.
func (l *Ledger) ListByAccount(ctx context.Context, accountID uint64) ([]models.Investment, error) {
	var rows []models.Investment
	if errFind := l.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// ListAll returns investments across accounts, optionally filtered by status.
func (l *Ledger) ListAll(ctx context.Context, status string, limit, offset int) ([]models.Investment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := l.db.WithContext(ctx).Model(&models.Investment{})
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.Investment
	if errFind := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// LastRun returns the most recent accrual run, or nil when none ran yet.
func (l *Ledger) LastRun(ctx context.Context) (*models.DailyRunLog, error) {
	var run models.DailyRunLog
	if errFind := l.db.WithContext(ctx).Order("run_date DESC").First(&run).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errFind
	}
	return &run, nil
}
