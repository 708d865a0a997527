package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MinimumAmount is the smallest payout a user may request.
var MinimumAmount = decimal.NewFromInt(100)

// Workflow drives withdrawal requests through pending, completed and cancelled.
type Workflow struct {
	db        *gorm.DB
	cipher    *security.FieldCipher
	book      wallet.Poster
	publisher events.Publisher
	now       func() time.Time
}

// Option customizes a Workflow.
type Option func(*Workflow)

// WithPoster replaces the wallet poster.
func WithPoster(p wallet.Poster) Option { return func(w *Workflow) { w.book = p } }

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option { return func(w *Workflow) { w.publisher = p } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

// NewWorkflow constructs a Workflow. cipher encrypts the payout details at rest.
func NewWorkflow(conn *gorm.DB, cipher *security.FieldCipher, opts ...Option) *Workflow {
	w := &Workflow{
		db:        conn,
		cipher:    cipher,
		book:      wallet.NewBook(),
		publisher: events.Fallback{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Request files a pending withdrawal. The balance check is advisory: nothing is reserved,
// and approval checks the balance again.
func (w *Workflow) Request(ctx context.Context, accountID uint64, amount decimal.Decimal, bankDetails string) (*models.WithdrawalRequest, error) {
	amount = amount.Round(2)
	if amount.LessThan(MinimumAmount) {
		return nil, fmt.Errorf("minimum withdrawal is %s: %w", wallet.FormatINR(MinimumAmount), apperr.ErrBelowMinimum)
	}
	bankDetails = strings.TrimSpace(bankDetails)
	if bankDetails == "" {
		return nil, apperr.Validation("bank details are required")
	}

	balance, err := wallet.Balance(ctx, w.db, accountID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance) {
		return nil, fmt.Errorf("wallet balance %s is below %s: %w",
			wallet.FormatINR(balance), wallet.FormatINR(amount), apperr.ErrInsufficientFunds)
	}

	encrypted, err := w.cipher.Encrypt(bankDetails)
	if err != nil {
		return nil, err
	}
	req := models.WithdrawalRequest{
		AccountID:            accountID,
		Amount:               amount,
		BankDetailsEncrypted: encrypted,
		Status:               models.WithdrawalStatusPending,
		CreatedAt:            w.now(),
	}
	if errCreate := w.db.WithContext(ctx).Create(&req).Error; errCreate != nil {
		return nil, fmt.Errorf("create withdrawal request: %w", errCreate)
	}

	log.WithFields(log.Fields{
		"account_id":    accountID,
		"withdrawal_id": req.ID,
		"amount":        amount.StringFixed(2),
	}).Info("withdrawal requested")
	events.Emit(ctx, w.publisher, w.event(events.WithdrawalRequested, &req, ""))
	return &req, nil
}

// Get returns a withdrawal request by id.
func (w *Workflow) Get(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	return load(w.db.WithContext(ctx), id, false)
}

// Approve completes a pending request and debits the wallet. When the balance no longer
// covers the amount the request stays pending and apperr.ErrInsufficientFunds is returned.
func (w *Workflow) Approve(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	errTx := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = w.ApproveTx(tx, id, "")
		return err
	})
	if errTx != nil {
		if errors.Is(errTx, apperr.ErrInsufficientFunds) {
			log.WithField("withdrawal_id", id).Warnf("withdrawal left pending: %v", errTx)
		}
		return nil, errTx
	}
	w.PublishCompleted(ctx, req, "")
	return req, nil
}

// ApproveTx is Approve inside the caller's transaction. reference links the withdrawal
// transaction to the payment that settled its fee.
func (w *Workflow) ApproveTx(tx *gorm.DB, id uint64, reference string) (*models.WithdrawalRequest, error) {
	req, err := load(tx, id, true)
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawalStatusPending {
		return nil, fmt.Errorf("withdrawal %d is %s: %w", id, req.Status, apperr.ErrConflict)
	}

	if _, errDebit := w.book.Debit(tx, req.AccountID, wallet.Entry{
		Kind:                 models.TransactionKindWithdrawal,
		Amount:               req.Amount,
		Description:          fmt.Sprintf("Withdrawal of %s", wallet.FormatINR(req.Amount)),
		Reference:            reference,
		BankDetailsEncrypted: req.BankDetailsEncrypted,
	}); errDebit != nil {
		return nil, errDebit
	}

	resolvedAt := w.now()
	res := tx.Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, models.WithdrawalStatusPending).
		Updates(map[string]any{"status": models.WithdrawalStatusCompleted, "resolved_at": resolvedAt})
	if res.Error != nil {
		return nil, fmt.Errorf("complete withdrawal %d: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("withdrawal %d resolved concurrently: %w", id, apperr.ErrConflict)
	}
	req.Status = models.WithdrawalStatusCompleted
	req.ResolvedAt = &resolvedAt
	return req, nil
}

// PublishCompleted emits the completion event. Call it after the approving transaction commits.
func (w *Workflow) PublishCompleted(ctx context.Context, req *models.WithdrawalRequest, reference string) {
	if req == nil {
		return
	}
	log.WithFields(log.Fields{
		"account_id":    req.AccountID,
		"withdrawal_id": req.ID,
		"amount":        req.Amount.StringFixed(2),
	}).Info("withdrawal completed")
	events.Emit(ctx, w.publisher, w.event(events.WithdrawalCompleted, req, reference))
}

// Cancel rejects a pending request. It has no balance effect.
func (w *Workflow) Cancel(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	resolvedAt := w.now()
	conn := w.db.WithContext(ctx)
	res := conn.Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, models.WithdrawalStatusPending).
		Updates(map[string]any{"status": models.WithdrawalStatusCancelled, "resolved_at": resolvedAt})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel withdrawal %d: %w", id, res.Error)
	}
	req, err := load(conn, id, false)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected != 1 {
		return nil, fmt.Errorf("withdrawal %d is %s: %w", id, req.Status, apperr.ErrConflict)
	}
	log.WithField("withdrawal_id", id).Info("withdrawal cancelled")
	events.Emit(ctx, w.publisher, w.event(events.WithdrawalCancelled, req, ""))
	return req, nil
}

// LinkIntentTx records the fee payment intent opened for a pending request.
func (w *Workflow) LinkIntentTx(tx *gorm.DB, id, intentID uint64) error {
	res := tx.Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, models.WithdrawalStatusPending).
		Update("payment_intent_id", intentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("withdrawal %d is not pending: %w", id, apperr.ErrConflict)
	}
	return nil
}

// ListPending returns pending requests, oldest first.
func (w *Workflow) ListPending(ctx context.Context) ([]models.WithdrawalRequest, error) {
	var rows []models.WithdrawalRequest
	if errFind := w.db.WithContext(ctx).
		Where("status = ?", models.WithdrawalStatusPending).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// ListByAccount returns the account's requests, newest first.
func (w *Workflow) ListByAccount(ctx context.Context, accountID uint64) ([]models.WithdrawalRequest, error) {
	var rows []models.WithdrawalRequest
	if errFind := w.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// BankDetails decrypts the payout destination of a request.
func (w *Workflow) BankDetails(req *models.WithdrawalRequest) (string, error) {
	if req == nil || req.BankDetailsEncrypted == "" {
		return "", nil
	}
	return w.cipher.Decrypt(req.BankDetailsEncrypted)
}

func (w *Workflow) event(eventType string, req *models.WithdrawalRequest, reference string) events.Event {
	ev := events.New(eventType, req.AccountID, reference, req.Amount.StringFixed(2))
	ev.Data = map[string]any{"withdrawal_id": req.ID}
	return ev
}

func load(conn *gorm.DB, id uint64, lock bool) (*models.WithdrawalRequest, error) {
	query := conn
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var req models.WithdrawalRequest
	if errFind := query.First(&req, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("withdrawal %d: %w", id, apperr.ErrNotFound)
		}
		return nil, errFind
	}
	return &req, nil
}
