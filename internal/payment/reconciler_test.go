package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/investment"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/investkar/ledger/internal/withdrawal"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fixture struct {
	conn        *gorm.DB
	reconciler  *Reconciler
	withdrawals *withdrawal.Workflow
	recorder    *events.Recorder
}

func setupFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	cipher, err := security.NewFieldCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "lookup-test")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	rec := &events.Recorder{}
	ledger := investment.NewLedger(conn, investment.WithPublisher(rec))
	workflow := withdrawal.NewWorkflow(conn, cipher, withdrawal.WithPublisher(rec))
	opts = append([]Option{WithPublisher(rec)}, opts...)
	r := NewReconciler(conn, ledger, workflow, LinkBuilder{PayeeID: "merchant@ybl", PayeeName: "InvestKar"}, opts...)
	return &fixture{conn: conn, reconciler: r, withdrawals: workflow, recorder: rec}
}

func (f *fixture) account(t *testing.T, code string, balance int64) uint64 {
	t.Helper()
	account := models.Account{PhoneHash: "h" + code, PhoneEncrypted: "e", CredentialHash: "c", Salt: "s", ReferralCode: code}
	if errCreate := f.conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("seed account: %v", errCreate)
	}
	if balance > 0 {
		errTx := f.conn.Transaction(func(tx *gorm.DB) error {
			_, err := wallet.NewBook().Credit(tx, account.ID, wallet.Entry{Kind: models.TransactionKindAdminAdjustment, Amount: decimal.NewFromInt(balance)})
			return err
		})
		if errTx != nil {
			t.Fatalf("fund account: %v", errTx)
		}
	}
	return account.ID
}

func (f *fixture) investments(t *testing.T, accountID uint64) int64 {
	t.Helper()
	var count int64
	f.conn.Model(&models.Investment{}).Where("account_id = ?", accountID).Count(&count)
	return count
}

func TestOpenIntentBuildsCheckout(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300001", 0)

	if _, err := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(700)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for off-plan amount, got %v", err)
	}
	if _, err := f.reconciler.OpenIntent(ctx, accountID, 9, decimal.NewFromInt(599)); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown plan, got %v", err)
	}
	if _, err := f.reconciler.OpenIntent(ctx, 777, 1, decimal.NewFromInt(599)); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}

	checkout, err := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(599))
	if err != nil {
		t.Fatalf("open intent: %v", err)
	}
	intent := checkout.Intent
	if intent.Status != models.PaymentIntentStatusPending || intent.Kind != models.PaymentIntentKindInvestment {
		t.Fatalf("unexpected intent %+v", intent)
	}
	prefix := fmt.Sprintf("INV%d%d", intent.CreatedAt.Unix(), accountID)
	if !strings.HasPrefix(intent.TransactionID, prefix) || len(intent.TransactionID) != len(prefix)+4 {
		t.Fatalf("unexpected transaction id %q", intent.TransactionID)
	}
	if !strings.Contains(checkout.PaymentURL, "&am=599.00&") || !strings.Contains(checkout.PaymentURL, "&tr="+intent.TransactionID+"&") {
		t.Fatalf("unexpected payment url %s", checkout.PaymentURL)
	}
	if !checkout.Deadline.Equal(intent.CreatedAt.Add(DefaultTimeout)) {
		t.Fatalf("unexpected deadline %s", checkout.Deadline)
	}
}

func TestTransactionIDRegeneratedOnCollision(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := setupFixture(t, WithClock(func() time.Time { return fixed }))
	tokens := []string{"aaaa", "aaaa", "bbbb"}
	f.reconciler.randomToken = func() (string, error) {
		token := tokens[0]
		tokens = tokens[1:]
		return token, nil
	}
	ctx := context.Background()
	accountID := f.account(t, "300002", 0)

	first, err := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(599))
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	second, err := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(1099))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if first.Intent.TransactionID == second.Intent.TransactionID || !strings.HasSuffix(second.Intent.TransactionID, "BBBB") {
		t.Fatalf("expected regenerated id, got %s and %s", first.Intent.TransactionID, second.Intent.TransactionID)
	}
}

func TestReconcileActivatesOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300003", 0)
	checkout, _ := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(599))
	txID := checkout.Intent.TransactionID

	done, err := f.reconciler.Reconcile(ctx, txID)
	if err != nil || done {
		t.Fatalf("pending intent should not reconcile: done=%v err=%v", done, err)
	}
	stored, _ := f.reconciler.Get(ctx, txID)
	if stored.VerificationAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", stored.VerificationAttempts)
	}

	if _, err := f.reconciler.MarkVerified(ctx, txID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if again, err := f.reconciler.MarkVerified(ctx, txID); err != nil || again.Status != models.PaymentIntentStatusVerified {
		t.Fatalf("second mark verified should be a no-op, got %+v err=%v", again, err)
	}

	for i := 0; i < 2; i++ {
		done, err = f.reconciler.Reconcile(ctx, txID)
		if err != nil || !done {
			t.Fatalf("reconcile %d: done=%v err=%v", i, done, err)
		}
	}
	if n := f.investments(t, accountID); n != 1 {
		t.Fatalf("expected exactly one investment, got %d", n)
	}
	balance, _ := wallet.Balance(ctx, f.conn, accountID)
	if balance.StringFixed(2) != "23.96" {
		t.Fatalf("expected first day return only, got %s", balance)
	}
	var refs int64
	f.conn.Model(&models.Transaction{}).Where("reference = ?", txID).Count(&refs)
	if refs != 2 {
		t.Fatalf("expected investment and return entries referencing the payment, got %d", refs)
	}
	if f.recorder.Count(events.PaymentCompleted) != 1 || f.recorder.Count(events.InvestmentActivated) != 1 {
		t.Fatalf("unexpected events %+v", f.recorder.Events())
	}
}

func TestConcurrentReconcileActivatesOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300004", 0)
	checkout, _ := f.reconciler.OpenIntent(ctx, accountID, 2, decimal.NewFromInt(1799))
	txID := checkout.Intent.TransactionID
	if _, err := f.reconciler.MarkVerified(ctx, txID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reconciler.Reconcile(ctx, txID); err != nil {
				t.Errorf("reconcile: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := f.investments(t, accountID); n != 1 {
		t.Fatalf("expected exactly one investment, got %d", n)
	}
}

func TestExpireIfPending(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := setupFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	accountID := f.account(t, "300005", 0)
	checkout, _ := f.reconciler.OpenIntent(ctx, accountID, 1, decimal.NewFromInt(599))
	txID := checkout.Intent.TransactionID

	if expired, err := f.reconciler.ExpireIfPending(ctx, txID, checkout.Deadline); err != nil || expired {
		t.Fatalf("intent must not expire before its deadline: expired=%v err=%v", expired, err)
	}
	now = now.Add(DefaultTimeout)
	if expired, err := f.reconciler.ExpireIfPending(ctx, txID, checkout.Deadline); err != nil || !expired {
		t.Fatalf("expected expiry at deadline: expired=%v err=%v", expired, err)
	}
	if expired, _ := f.reconciler.ExpireIfPending(ctx, txID, checkout.Deadline); expired {
		t.Fatalf("second expiry must be a no-op")
	}
	if _, err := f.reconciler.MarkVerified(ctx, txID); !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expected ErrExpired verifying timed out intent, got %v", err)
	}
	if _, err := f.reconciler.Reconcile(ctx, txID); !errors.Is(err, apperr.ErrExpired) {
		t.Fatalf("expected ErrExpired reconciling timed out intent, got %v", err)
	}
	if _, err := f.reconciler.Reconcile(ctx, "INV-missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := f.investments(t, accountID); n != 0 {
		t.Fatalf("timed out intent must not activate, got %d", n)
	}
	if f.recorder.Count(events.PaymentTimedOut) != 1 {
		t.Fatalf("expected one timeout event")
	}
}

func TestWithdrawalIntentCompletesWithdrawal(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300006", 400)
	other := f.account(t, "300007", 0)

	req, err := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(250), "SBI 1234")
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if _, err := f.reconciler.OpenWithdrawalIntent(ctx, other, req.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign withdrawal, got %v", err)
	}

	checkout, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	if err != nil {
		t.Fatalf("open withdrawal intent: %v", err)
	}
	intent := checkout.Intent
	if !intent.Amount.Equal(WithdrawalFee) || !strings.HasPrefix(intent.TransactionID, "WD") {
		t.Fatalf("unexpected fee intent %+v", intent)
	}
	linked, _ := f.withdrawals.Get(ctx, req.ID)
	if linked.PaymentIntentID == nil || *linked.PaymentIntentID != intent.ID {
		t.Fatalf("withdrawal not linked to intent: %+v", linked)
	}

	if _, err := f.reconciler.MarkVerified(ctx, intent.TransactionID); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if done, err := f.reconciler.Reconcile(ctx, intent.TransactionID); err != nil || !done {
		t.Fatalf("reconcile: done=%v err=%v", done, err)
	}
	completed, _ := f.withdrawals.Get(ctx, req.ID)
	if completed.Status != models.WithdrawalStatusCompleted {
		t.Fatalf("expected completed withdrawal, got %s", completed.Status)
	}
	balance, _ := wallet.Balance(ctx, f.conn, accountID)
	if balance.StringFixed(2) != "150.00" {
		t.Fatalf("expected balance 150.00, got %s", balance)
	}
	if _, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict for completed withdrawal, got %v", err)
	}
}

func TestWithdrawalIntentLeavesIntentVerifiedWhenFundsShort(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300008", 200)

	req, _ := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(200), "SBI 1234")
	checkout, _ := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	errSpend := f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := wallet.NewBook().Debit(tx, accountID, wallet.Entry{Kind: models.TransactionKindAdminAdjustment, Amount: decimal.NewFromInt(50)})
		return err
	})
	if errSpend != nil {
		t.Fatalf("spend: %v", errSpend)
	}
	f.reconciler.MarkVerified(ctx, checkout.Intent.TransactionID)

	if _, err := f.reconciler.Reconcile(ctx, checkout.Intent.TransactionID); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	intent, _ := f.reconciler.Get(ctx, checkout.Intent.TransactionID)
	if intent.Status != models.PaymentIntentStatusVerified {
		t.Fatalf("intent must roll back to verified, got %s", intent.Status)
	}
	pending, _ := f.withdrawals.Get(ctx, req.ID)
	if pending.Status != models.WithdrawalStatusPending {
		t.Fatalf("withdrawal must stay pending, got %s", pending.Status)
	}
}

func TestWithdrawalIntentIsReusedWhilePending(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300009", 300)

	req, _ := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(120), "SBI 1234")
	first, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	if err != nil {
		t.Fatalf("open first intent: %v", err)
	}
	second, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	if err != nil {
		t.Fatalf("open second intent: %v", err)
	}
	if second.Intent.TransactionID != first.Intent.TransactionID {
		t.Fatalf("expected pending intent %s to be reused, got %s", first.Intent.TransactionID, second.Intent.TransactionID)
	}
	var count int64
	f.conn.Model(&models.PaymentIntent{}).Where("withdrawal_id = ?", req.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one fee intent, got %d", count)
	}

	f.reconciler.MarkVerified(ctx, first.Intent.TransactionID)
	if _, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict once the fee is verified, got %v", err)
	}
}

func TestWithdrawalIntentReopensAfterTimeout(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := setupFixture(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	accountID := f.account(t, "300010", 300)

	req, _ := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(120), "SBI 1234")
	first, _ := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	now = now.Add(DefaultTimeout + time.Second)
	if expired, err := f.reconciler.ExpireIfPending(ctx, first.Intent.TransactionID, f.reconciler.Deadline(first.Intent)); err != nil || !expired {
		t.Fatalf("expire: expired=%v err=%v", expired, err)
	}

	second, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	if err != nil {
		t.Fatalf("reopen intent: %v", err)
	}
	if second.Intent.TransactionID == first.Intent.TransactionID {
		t.Fatalf("expected a fresh intent after timeout")
	}
	linked, _ := f.withdrawals.Get(ctx, req.ID)
	if linked.PaymentIntentID == nil || *linked.PaymentIntentID != second.Intent.ID {
		t.Fatalf("withdrawal should link the new intent: %+v", linked)
	}
}

func TestFeeForCancelledWithdrawalCompletesWithRefundDue(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300011", 300)

	req, _ := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(150), "SBI 1234")
	checkout, err := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	if err != nil {
		t.Fatalf("open intent: %v", err)
	}
	if _, err := f.withdrawals.Cancel(ctx, req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.reconciler.MarkVerified(ctx, checkout.Intent.TransactionID)

	done, err := f.reconciler.Reconcile(ctx, checkout.Intent.TransactionID)
	if err != nil || !done {
		t.Fatalf("reconcile: done=%v err=%v", done, err)
	}
	intent, _ := f.reconciler.Get(ctx, checkout.Intent.TransactionID)
	if intent.Status != models.PaymentIntentStatusCompleted || !intent.RefundDue {
		t.Fatalf("expected completed intent flagged for refund, got %+v", intent)
	}
	cancelled, _ := f.withdrawals.Get(ctx, req.ID)
	if cancelled.Status != models.WithdrawalStatusCancelled {
		t.Fatalf("withdrawal must stay cancelled, got %s", cancelled.Status)
	}
	balance, _ := wallet.Balance(ctx, f.conn, accountID)
	if balance.StringFixed(2) != "300.00" {
		t.Fatalf("expected untouched balance 300.00, got %s", balance)
	}
	if f.recorder.Count(events.PaymentRefundDue) != 1 || f.recorder.Count(events.WithdrawalCompleted) != 0 {
		t.Fatalf("unexpected events %+v", f.recorder.Events())
	}

	if done, err := f.reconciler.Reconcile(ctx, checkout.Intent.TransactionID); err != nil || !done {
		t.Fatalf("repeat reconcile: done=%v err=%v", done, err)
	}
	if f.recorder.Count(events.PaymentRefundDue) != 1 {
		t.Fatalf("refund must be reported once")
	}
}

func TestSweeperSettlesFeeForResolvedWithdrawal(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	accountID := f.account(t, "300012", 300)

	req, _ := f.withdrawals.Request(ctx, accountID, decimal.NewFromInt(150), "SBI 1234")
	checkout, _ := f.reconciler.OpenWithdrawalIntent(ctx, accountID, req.ID)
	f.reconciler.MarkVerified(ctx, checkout.Intent.TransactionID)
	if _, err := f.withdrawals.Approve(ctx, req.ID); err != nil {
		t.Fatalf("approve directly: %v", err)
	}

	sweeper := NewSweeper(f.conn, f.reconciler, nil)
	result := sweeper.SweepOnce(ctx)
	if result.Reconciled != 1 {
		t.Fatalf("expected the verified fee to settle, got %+v", result)
	}
	intent, _ := f.reconciler.Get(ctx, checkout.Intent.TransactionID)
	if intent.Status != models.PaymentIntentStatusCompleted || !intent.RefundDue {
		t.Fatalf("expected refund-due completion, got %+v", intent)
	}
	if again := sweeper.SweepOnce(ctx); again.Reconciled != 0 {
		t.Fatalf("second sweep should find nothing, got %+v", again)
	}
	balance, _ := wallet.Balance(ctx, f.conn, accountID)
	if balance.StringFixed(2) != "150.00" {
		t.Fatalf("withdrawal must debit once, balance %s", balance)
	}
}
