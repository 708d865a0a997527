package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/events"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/ratelimit"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupRegistryDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:registry_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func testCipher(t *testing.T) *security.FieldCipher {
	t.Helper()
	c, err := security.NewFieldCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "lookup-test")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *gorm.DB) {
	t.Helper()
	conn := setupRegistryDB(t)
	return NewRegistry(conn, testCipher(t), ratelimit.New(ratelimit.NewMemoryStore()), opts...), conn
}

// referralFailingPoster fails every referral credit and delegates everything else.
type referralFailingPoster struct {
	*wallet.Book
}

func (p referralFailingPoster) Credit(tx *gorm.DB, accountID uint64, entry wallet.Entry) (*models.Transaction, error) {
	if entry.Kind == models.TransactionKindReferral {
		return nil, errors.New("simulated referral failure")
	}
	return p.Book.Credit(tx, accountID, entry)
}

func TestRegisterStoresEncryptedPhoneAndHashedSecret(t *testing.T) {
	reg, conn := newTestRegistry(t)
	ctx := context.Background()

	account, err := reg.Register(ctx, "9876543210", "123456", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.ReferralCode != "543210" {
		t.Fatalf("expected referral code from phone suffix, got %q", account.ReferralCode)
	}

	var stored models.Account
	if errFind := conn.First(&stored, account.ID).Error; errFind != nil {
		t.Fatalf("load: %v", errFind)
	}
	if stored.PhoneEncrypted == "9876543210" || stored.PhoneHash == "9876543210" {
		t.Fatalf("phone stored in plaintext")
	}
	if stored.CredentialHash == "123456" || len(stored.Salt) != 32 {
		t.Fatalf("credential not hashed: %+v", stored)
	}
	phone, errPhone := reg.Phone(&stored)
	if errPhone != nil || phone != "9876543210" {
		t.Fatalf("decrypt phone: %q %v", phone, errPhone)
	}
	if !stored.WalletBalance.IsZero() {
		t.Fatalf("expected zero balance, got %s", stored.WalletBalance)
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "9876543210", "123456", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Register(ctx, "+91 98765 43210", "654321", ""); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate phone, got %v", err)
	}

	bad := []struct{ phone, secret string }{
		{"5876543210", "123456"},
		{"987654321", "123456"},
		{"98765432a0", "123456"},
		{"9123456789", "12345"},
		{"9123456789", "12a456"},
	}
	for _, tc := range bad {
		if _, err := reg.Register(ctx, tc.phone, tc.secret, ""); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("phone=%q secret=%q: expected ErrValidation, got %v", tc.phone, tc.secret, err)
		}
	}
}

func TestRegisterAllocatesSuffixWhenReferralCodeTaken(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	first, err := reg.Register(ctx, "9876543210", "123456", "")
	if err != nil {
		t.Fatalf("register first: %v", err)
	}
	second, err := reg.Register(ctx, "8876543210", "123456", "")
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if first.ReferralCode == second.ReferralCode {
		t.Fatalf("expected distinct referral codes, both %q", first.ReferralCode)
	}
	if len(second.ReferralCode) != 9 || second.ReferralCode[:6] != "543210" {
		t.Fatalf("expected suffixed code, got %q", second.ReferralCode)
	}
}

func TestAuthenticate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	account, err := reg.Register(ctx, "9876543210", "123456", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	id, err := reg.Authenticate(ctx, "9876543210", "123456")
	if err != nil || id != account.ID {
		t.Fatalf("expected id %d, got %d err=%v", account.ID, id, err)
	}
	secret := []byte("123456")
	for pos := range secret {
		changed := append([]byte(nil), secret...)
		changed[pos] = '0' + (changed[pos]-'0'+1)%10
		if _, err := reg.Authenticate(ctx, "9876543210", string(changed)); !errors.Is(err, apperr.ErrInvalidCredential) {
			t.Fatalf("secret %q: expected ErrInvalidCredential, got %v", changed, err)
		}
	}
	if _, err := reg.Authenticate(ctx, "9123456789", "123456"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthenticateIsRateLimitedPerPhone(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	if _, err := reg.Register(ctx, "9876543210", "123456", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < ratelimit.Login.MaxAttempts; i++ {
		if _, err := reg.Authenticate(ctx, "9876543210", "000000"); !errors.Is(err, apperr.ErrInvalidCredential) {
			t.Fatalf("attempt %d: expected ErrInvalidCredential, got %v", i+1, err)
		}
	}
	_, err := reg.Authenticate(ctx, "9876543210", "123456")
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited even with the right secret, got %v", err)
	}
	if _, ok := apperr.RetryAfter(err); !ok {
		t.Fatalf("expected retry-after on rate limit error")
	}
}

func TestReferralCreditsReferrer(t *testing.T) {
	rec := &events.Recorder{}
	reg, conn := newTestRegistry(t, WithPublisher(rec))
	ctx := context.Background()

	referrer, err := reg.Register(ctx, "9876543210", "123456", "")
	if err != nil {
		t.Fatalf("register referrer: %v", err)
	}
	referred, err := reg.Register(ctx, "9123456789", "654321", referrer.ReferralCode)
	if err != nil {
		t.Fatalf("register referred: %v", err)
	}
	if referred.ReferredByID == nil || *referred.ReferredByID != referrer.ID {
		t.Fatalf("expected referred_by %d, got %v", referrer.ID, referred.ReferredByID)
	}

	balance, posted, errAudit := wallet.Audit(ctx, conn, referrer.ID)
	if errAudit != nil {
		t.Fatalf("audit: %v", errAudit)
	}
	if !balance.Equal(decimal.NewFromInt(50)) || !posted.Equal(balance) {
		t.Fatalf("expected referrer balance 50, got %s (posted %s)", balance, posted)
	}
	var refTx models.Transaction
	if errFind := conn.Where("account_id = ? AND kind = ?", referrer.ID, models.TransactionKindReferral).First(&refTx).Error; errFind != nil {
		t.Fatalf("referral transaction missing: %v", errFind)
	}
	if rec.Count(events.AccountRegistered) != 2 {
		t.Fatalf("expected two registration events, got %d", rec.Count(events.AccountRegistered))
	}
}

func TestReferralFailureDoesNotBlockRegistration(t *testing.T) {
	reg, conn := newTestRegistry(t, WithPoster(referralFailingPoster{Book: wallet.NewBook()}))
	ctx := context.Background()

	referrer, err := reg.Register(ctx, "9876543210", "123456", "")
	if err != nil {
		t.Fatalf("register referrer: %v", err)
	}
	referred, err := reg.Register(ctx, "9123456789", "654321", referrer.ReferralCode)
	if err != nil {
		t.Fatalf("expected registration to succeed despite referral failure, got %v", err)
	}
	if referred.ReferredByID != nil {
		t.Fatalf("expected no referrer link after failed credit")
	}

	var stored models.Account
	if errFind := conn.First(&stored, referred.ID).Error; errFind != nil {
		t.Fatalf("referred account not persisted: %v", errFind)
	}
	balance, _ := wallet.Balance(ctx, conn, referrer.ID)
	if !balance.IsZero() {
		t.Fatalf("expected referrer balance unchanged, got %s", balance)
	}
	var count int64
	conn.Model(&models.Transaction{}).Where("kind = ?", models.TransactionKindReferral).Count(&count)
	if count != 0 {
		t.Fatalf("expected no referral transactions, got %d", count)
	}
}

func TestUnknownReferralCodeIsIgnored(t *testing.T) {
	reg, _ := newTestRegistry(t)
	account, err := reg.Register(context.Background(), "9876543210", "123456", "NOPE99")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.ReferredByID != nil {
		t.Fatalf("expected no referrer")
	}
}

func TestAdjustWallet(t *testing.T) {
	reg, conn := newTestRegistry(t)
	ctx := context.Background()
	account, _ := reg.Register(ctx, "9876543210", "123456", "")

	if _, err := reg.AdjustWallet(ctx, account.ID, decimal.NewFromInt(200), "goodwill"); err != nil {
		t.Fatalf("credit adjustment: %v", err)
	}
	if _, err := reg.AdjustWallet(ctx, account.ID, decimal.RequireFromString("-50.25"), "correction"); err != nil {
		t.Fatalf("debit adjustment: %v", err)
	}
	if _, err := reg.AdjustWallet(ctx, account.ID, decimal.NewFromInt(-1000), "too much"); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := reg.AdjustWallet(ctx, account.ID, decimal.NewFromInt(5), " "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation without reason, got %v", err)
	}

	balance, posted, _ := wallet.Audit(ctx, conn, account.ID)
	if !balance.Equal(decimal.RequireFromString("149.75")) || !balance.Equal(posted) {
		t.Fatalf("unexpected balance %s posted %s", balance, posted)
	}
	rows, err := reg.Transactions(ctx, account.ID, 0)
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected 2 transactions, got %d err=%v", len(rows), err)
	}
	if rows[0].Description != "Admin adjustment: correction" {
		t.Fatalf("expected newest first, got %q", rows[0].Description)
	}
}

func TestDeleteCascades(t *testing.T) {
	reg, conn := newTestRegistry(t)
	ctx := context.Background()
	referrer, _ := reg.Register(ctx, "9876543210", "123456", "")
	referred, _ := reg.Register(ctx, "9123456789", "654321", referrer.ReferralCode)
	if _, err := reg.IssueOtp(ctx, "9876543210"); err != nil {
		t.Fatalf("issue otp: %v", err)
	}
	conn.Create(&models.Investment{AccountID: referrer.ID, PlanID: 1, Principal: decimal.NewFromInt(599), DailyReturn: decimal.RequireFromString("23.96"), TotalDays: 80, DaysRemaining: 80, Status: models.InvestmentStatusActive})

	if err := reg.Delete(ctx, referrer.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, model := range []any{&models.Transaction{}, &models.Investment{}} {
		var n int64
		conn.Model(model).Where("account_id = ?", referrer.ID).Count(&n)
		if n != 0 {
			t.Fatalf("expected owned rows removed for %T, got %d", model, n)
		}
	}
	var otpCount int64
	conn.Model(&models.OtpChallenge{}).Count(&otpCount)
	if otpCount != 0 {
		t.Fatalf("expected otp challenge removed")
	}
	var stillReferred models.Account
	conn.First(&stillReferred, referred.ID)
	if stillReferred.ReferredByID != nil {
		t.Fatalf("expected referred_by cleared")
	}
	if err := reg.Delete(ctx, referrer.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
