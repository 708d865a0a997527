package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/metrics"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/plans"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultTimeout is how long an intent may stay pending before it times out.
	DefaultTimeout = 5 * time.Minute
	// transactionIDAttempts bounds id regeneration on unique collisions.
	transactionIDAttempts = 5
)

// WithdrawalFee is the fixed amount paid out of band to release a withdrawal.
var WithdrawalFee = decimal.NewFromInt(10)

// Activator creates an investment inside a reconciling transaction.
type Activator interface {
	ActivateTx(tx *gorm.DB, accountID uint64, planID int, principal decimal.Decimal, paymentMethod, reference string) (*models.Investment, error)
	PublishActivated(ctx context.Context, inv *models.Investment, reference string)
}

// Settler completes a withdrawal inside a reconciling transaction.
type Settler interface {
	LinkIntentTx(tx *gorm.DB, id, intentID uint64) error
	ApproveTx(tx *gorm.DB, id uint64, reference string) (*models.WithdrawalRequest, error)
	PublishCompleted(ctx context.Context, req *models.WithdrawalRequest, reference string)
}

// Checkout is what a payer needs to complete an intent out of band.
type Checkout struct {
	Intent     *models.PaymentIntent `json:"intent"`
	PaymentURL string                `json:"payment_url"`
	PayeeID    string                `json:"payee_id"`
	Deadline   time.Time             `json:"deadline"`
}

// Reconciler tracks payment intents and applies their side effect once confirmed.
type Reconciler struct {
	db          *gorm.DB
	activator   Activator
	settler     Settler
	links       func() LinkBuilder
	publisher   events.Publisher
	timeout     time.Duration
	now         func() time.Time
	randomToken func() (string, error)
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLinkSource resolves the payee used for new links on every call.
func WithLinkSource(fn func() LinkBuilder) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.links = fn
		}
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(r *Reconciler) { r.publisher = p } }

// WithTimeout sets how long intents may stay pending.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

// NewReconciler constructs a Reconciler.
func NewReconciler(conn *gorm.DB, activator Activator, settler Settler, links LinkBuilder, opts ...Option) *Reconciler {
	r := &Reconciler{
		db:          conn,
		activator:   activator,
		settler:     settler,
		links:       func() LinkBuilder { return links },
		publisher:   events.Fallback{},
		timeout:     DefaultTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		randomToken: func() (string, error) { return security.GenerateRandomString(4) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns how long intents may stay pending.
func (r *Reconciler) Timeout() time.Duration { return r.timeout }

// Deadline returns the moment intent times out.
func (r *Reconciler) Deadline(intent *models.PaymentIntent) time.Time {
	return intent.CreatedAt.Add(r.timeout)
}

// OpenIntent starts an investment payment for planID.
func (r *Reconciler) OpenIntent(ctx context.Context, accountID uint64, planID int, amount decimal.Decimal) (*Checkout, error) {
	plan, err := plans.Get(planID)
	if err != nil {
		return nil, err
	}
	if !plan.AcceptsAmount(amount) {
		return nil, apperr.Validation("amount %s is not offered by plan %d", amount.StringFixed(2), planID)
	}
	if _, errBalance := wallet.Balance(ctx, r.db, accountID); errBalance != nil {
		return nil, errBalance
	}

	intent := &models.PaymentIntent{
		AccountID: accountID,
		Kind:      models.PaymentIntentKindInvestment,
		PlanID:    plan.ID,
		Amount:    amount.Round(2),
	}
	errCreate := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.insert(tx, intent, "INV")
	})
	if errCreate != nil {
		return nil, errCreate
	}
	note := fmt.Sprintf("Investment - %s plan", plan.Name)
	return r.checkout(intent, note), nil
}

// OpenWithdrawalIntent starts the fee payment that releases a pending withdrawal. A request
// keeps at most one live fee intent: a pending one is handed out again, and one that is already
// verified or completed makes the request ineligible for another.
func (r *Reconciler) OpenWithdrawalIntent(ctx context.Context, accountID, withdrawalID uint64) (*Checkout, error) {
	var (
		req    models.WithdrawalRequest
		intent *models.PaymentIntent
	)
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, withdrawalID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return fmt.Errorf("withdrawal %d: %w", withdrawalID, apperr.ErrNotFound)
			}
			return errFind
		}
		if req.AccountID != accountID {
			return fmt.Errorf("withdrawal %d: %w", withdrawalID, apperr.ErrNotFound)
		}
		if req.Status != models.WithdrawalStatusPending {
			return fmt.Errorf("withdrawal %d is %s: %w", withdrawalID, req.Status, apperr.ErrConflict)
		}

		if req.PaymentIntentID != nil {
			var linked models.PaymentIntent
			errLinked := tx.First(&linked, *req.PaymentIntentID).Error
			switch {
			case errLinked == nil && linked.Status == models.PaymentIntentStatusPending:
				intent = &linked
				return nil
			case errLinked == nil && linked.Status != models.PaymentIntentStatusTimeout:
				return fmt.Errorf("withdrawal %d fee is already %s: %w", withdrawalID, linked.Status, apperr.ErrConflict)
			case errLinked != nil && !errors.Is(errLinked, gorm.ErrRecordNotFound):
				return errLinked
			}
		}

		intent = &models.PaymentIntent{
			AccountID:    accountID,
			Kind:         models.PaymentIntentKindWithdrawal,
			WithdrawalID: &req.ID,
			Amount:       WithdrawalFee,
		}
		if errInsert := r.insert(tx, intent, "WD"); errInsert != nil {
			return errInsert
		}
		return r.settler.LinkIntentTx(tx, req.ID, intent.ID)
	})
	if errTx != nil {
		return nil, errTx
	}
	note := fmt.Sprintf("Withdrawal fee - %s", wallet.FormatINR(req.Amount))
	return r.checkout(intent, note), nil
}

// insert persists intent with a fresh transaction id, retrying inside a savepoint when the id
// collides with an existing one.
func (r *Reconciler) insert(tx *gorm.DB, intent *models.PaymentIntent, prefix string) error {
	intent.Status = models.PaymentIntentStatusPending
	intent.CreatedAt = r.now()
	for attempt := 0; attempt < transactionIDAttempts; attempt++ {
		token, err := r.randomToken()
		if err != nil {
			return err
		}
		intent.ID = 0
		intent.TransactionID = fmt.Sprintf("%s%d%d%s", prefix, intent.CreatedAt.Unix(), intent.AccountID, strings.ToUpper(token))
		errCreate := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(intent).Error
		})
		if errCreate == nil {
			metrics.PaymentIntentsTotal.WithLabelValues(intent.Kind, models.PaymentIntentStatusPending).Inc()
			log.WithFields(log.Fields{
				"account_id":     intent.AccountID,
				"transaction_id": intent.TransactionID,
				"amount":         intent.Amount.StringFixed(2),
			}).Infof("%s payment intent opened", intent.Kind)
			return nil
		}
		if !db.IsUniqueViolation(errCreate) {
			return fmt.Errorf("create payment intent: %w", errCreate)
		}
	}
	return fmt.Errorf("could not allocate a unique transaction id: %w", apperr.ErrConflict)
}

func (r *Reconciler) checkout(intent *models.PaymentIntent, note string) *Checkout {
	links := r.links()
	return &Checkout{
		Intent:     intent,
		PaymentURL: links.Build(intent.Amount, intent.TransactionID, note),
		PayeeID:    links.PayeeID,
		Deadline:   r.Deadline(intent),
	}
}

// MarkVerified records the external confirmation for a pending intent. Verified and completed
// intents are returned unchanged; a timed out intent cannot be confirmed.
func (r *Reconciler) MarkVerified(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	conn := r.db.WithContext(ctx)
	verifiedAt := r.now()
	res := conn.Model(&models.PaymentIntent{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentIntentStatusPending).
		Updates(map[string]any{"status": models.PaymentIntentStatusVerified, "verified_at": verifiedAt})
	if res.Error != nil {
		return nil, fmt.Errorf("verify payment intent: %w", res.Error)
	}
	intent, err := loadIntent(conn, transactionID, false)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		metrics.PaymentIntentsTotal.WithLabelValues(intent.Kind, models.PaymentIntentStatusVerified).Inc()
		log.WithField("transaction_id", transactionID).Info("payment intent verified")
		return intent, nil
	}
	if intent.Status == models.PaymentIntentStatusTimeout {
		return nil, fmt.Errorf("payment %s timed out: %w", transactionID, apperr.ErrExpired)
	}
	return intent, nil
}

// Reconcile applies a verified intent exactly once. It reports true once the intent is
// completed, false while it is still pending, and apperr.ErrExpired for a timed out intent.
func (r *Reconciler) Reconcile(ctx context.Context, transactionID string) (bool, error) {
	var (
		intent     *models.PaymentIntent
		done       bool
		applied    bool
		refund     bool
		investment *models.Investment
		settled    *models.WithdrawalRequest
	)
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		intent, err = loadIntent(tx, transactionID, true)
		if err != nil {
			return err
		}
		switch intent.Status {
		case models.PaymentIntentStatusCompleted:
			done = true
			return nil
		case models.PaymentIntentStatusTimeout:
			return fmt.Errorf("payment %s timed out: %w", transactionID, apperr.ErrExpired)
		case models.PaymentIntentStatusPending:
			return tx.Model(&models.PaymentIntent{}).
				Where("id = ? AND status = ?", intent.ID, models.PaymentIntentStatusPending).
				UpdateColumn("verification_attempts", gorm.Expr("verification_attempts + 1")).Error
		case models.PaymentIntentStatusVerified:
		default:
			return fmt.Errorf("payment %s has unknown status %q", transactionID, intent.Status)
		}

		completedAt := r.now()
		res := tx.Model(&models.PaymentIntent{}).
			Where("id = ? AND status = ?", intent.ID, models.PaymentIntentStatusVerified).
			Updates(map[string]any{"status": models.PaymentIntentStatusCompleted, "completed_at": completedAt})
		if res.Error != nil {
			return fmt.Errorf("complete payment intent: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			// Another reconcile completed it first.
			done = true
			return nil
		}

		switch intent.Kind {
		case models.PaymentIntentKindInvestment:
			investment, err = r.activator.ActivateTx(tx, intent.AccountID, intent.PlanID, intent.Amount, "upi", intent.TransactionID)
		case models.PaymentIntentKindWithdrawal:
			if intent.WithdrawalID == nil {
				return apperr.Validation("withdrawal intent %s has no withdrawal", transactionID)
			}
			var resolved bool
			resolved, err = withdrawalResolved(tx, *intent.WithdrawalID)
			if err != nil {
				return err
			}
			if resolved {
				// The fee has nothing left to release; the payer is owed a refund.
				if errFlag := tx.Model(&models.PaymentIntent{}).
					Where("id = ?", intent.ID).
					Update("refund_due", true).Error; errFlag != nil {
					return fmt.Errorf("flag payment intent refund: %w", errFlag)
				}
				intent.Status = models.PaymentIntentStatusCompleted
				intent.CompletedAt = &completedAt
				intent.RefundDue = true
				done = true
				refund = true
				return nil
			}
			settled, err = r.settler.ApproveTx(tx, *intent.WithdrawalID, intent.TransactionID)
		default:
			err = apperr.Validation("unknown intent kind %q", intent.Kind)
		}
		if err != nil {
			return err
		}
		intent.Status = models.PaymentIntentStatusCompleted
		intent.CompletedAt = &completedAt
		done = true
		applied = true
		return nil
	})
	if errTx != nil {
		return false, errTx
	}
	if refund {
		metrics.PaymentIntentsTotal.WithLabelValues(intent.Kind, models.PaymentIntentStatusCompleted).Inc()
		log.WithFields(log.Fields{
			"account_id":     intent.AccountID,
			"transaction_id": intent.TransactionID,
			"withdrawal_id":  *intent.WithdrawalID,
			"amount":         intent.Amount.StringFixed(2),
		}).Warn("withdrawal fee paid after the withdrawal was resolved, refund due")
		events.Emit(ctx, r.publisher, events.New(events.PaymentRefundDue, intent.AccountID, intent.TransactionID, intent.Amount.StringFixed(2)))
		return true, nil
	}
	if !applied {
		return done, nil
	}

	metrics.PaymentIntentsTotal.WithLabelValues(intent.Kind, models.PaymentIntentStatusCompleted).Inc()
	log.WithFields(log.Fields{
		"account_id":     intent.AccountID,
		"transaction_id": intent.TransactionID,
		"kind":           intent.Kind,
	}).Info("payment intent reconciled")
	if investment != nil {
		r.activator.PublishActivated(ctx, investment, intent.TransactionID)
	}
	if settled != nil {
		r.settler.PublishCompleted(ctx, settled, intent.TransactionID)
	}
	ev := events.New(events.PaymentCompleted, intent.AccountID, intent.TransactionID, intent.Amount.StringFixed(2))
	ev.Data = map[string]any{"kind": intent.Kind}
	events.Emit(ctx, r.publisher, ev)
	return true, nil
}

// ExpireIfPending times out a still pending intent once deadline has passed. It reports
// whether this call performed the transition.
func (r *Reconciler) ExpireIfPending(ctx context.Context, transactionID string, deadline time.Time) (bool, error) {
	if r.now().Before(deadline) {
		return false, nil
	}
	conn := r.db.WithContext(ctx)
	res := conn.Model(&models.PaymentIntent{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentIntentStatusPending).
		Update("status", models.PaymentIntentStatusTimeout)
	if res.Error != nil {
		return false, fmt.Errorf("expire payment intent: %w", res.Error)
	}
	intent, err := loadIntent(conn, transactionID, false)
	if err != nil {
		return false, err
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	metrics.PaymentIntentsTotal.WithLabelValues(intent.Kind, models.PaymentIntentStatusTimeout).Inc()
	log.WithField("transaction_id", transactionID).Info("payment intent timed out")
	events.Emit(ctx, r.publisher, events.New(events.PaymentTimedOut, intent.AccountID, transactionID, intent.Amount.StringFixed(2)))
	return true, nil
}

// Get returns an intent by transaction id.
func (r *Reconciler) Get(ctx context.Context, transactionID string) (*models.PaymentIntent, error) {
	return loadIntent(r.db.WithContext(ctx), transactionID, false)
}

// ListByAccount returns the account's intents, newest first.
func (r *Reconciler) ListByAccount(ctx context.Context, accountID uint64) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	if errFind := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// List returns intents across accounts, optionally filtered by status.
func (r *Reconciler) List(ctx context.Context, status string, limit, offset int) ([]models.PaymentIntent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Model(&models.PaymentIntent{})
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.PaymentIntent
	if errFind := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// withdrawalResolved locks the withdrawal and reports whether it left the pending state.
func withdrawalResolved(tx *gorm.DB, id uint64) (bool, error) {
	var req models.WithdrawalRequest
	if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "status").
		First(&req, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, errFind
	}
	return req.Status != models.WithdrawalStatusPending, nil
}

func loadIntent(conn *gorm.DB, transactionID string, lock bool) (*models.PaymentIntent, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, apperr.Validation("transaction id is required")
	}
	query := conn
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var intent models.PaymentIntent
	if errFind := query.Where("transaction_id = ?", transactionID).First(&intent).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %s: %w", transactionID, apperr.ErrNotFound)
		}
		return nil, errFind
	}
	return &intent, nil
}
