package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/investkar/ledger/internal/account"
	"github.com/investkar/ledger/internal/config"
	"github.com/investkar/ledger/internal/db"
	"github.com/investkar/ledger/internal/http/api"
	"github.com/investkar/ledger/internal/investment"
	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/payment"
	"github.com/investkar/ledger/internal/ratelimit"
	"github.com/investkar/ledger/internal/security"
	"github.com/investkar/ledger/internal/settings"
	"github.com/investkar/ledger/internal/withdrawal"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type adminFixture struct {
	router *gin.Engine
	svc    api.Services
	token  string
}

func setupAdmin(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:admin_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	cipher, errCipher := security.NewFieldCipher("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", "lookup-test")
	if errCipher != nil {
		t.Fatalf("cipher: %v", errCipher)
	}
	ledger := investment.NewLedger(conn)
	workflow := withdrawal.NewWorkflow(conn, cipher)
	svc := api.Services{
		DB:          conn,
		JWT:         config.JWTConfig{Secret: "admin-test-secret-0123456789", Expiry: time.Hour},
		Accounts:    account.NewRegistry(conn, cipher, ratelimit.New(ratelimit.NewMemoryStore())),
		Ledger:      ledger,
		Withdrawals: workflow,
		Payments:    payment.NewReconciler(conn, ledger, workflow, payment.LinkBuilder{PayeeID: "merchant@ybl", PayeeName: "InvestKar"}),
		Cipher:      cipher,
	}

	hash, errHash := security.HashPassword("operator-pass")
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	if errCreate := conn.Create(&models.Admin{Username: "ops", Password: hash, Active: true}).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}

	r := gin.New()
	RegisterAdminRoutes(r, svc)
	f := &adminFixture{router: r, svc: svc}

	w := f.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "operator-pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil || resp.Token == "" {
		t.Fatalf("decode login: %v body=%s", errDecode, w.Body.String())
	}
	f.token = resp.Token
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var errMarshal error
		if raw, errMarshal = json.Marshal(body); errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *adminFixture) investor(t *testing.T, phone string) uint64 {
	t.Helper()
	acc, errRegister := f.svc.Accounts.Register(context.Background(), phone, "123456", "")
	if errRegister != nil {
		t.Fatalf("register: %v", errRegister)
	}
	return acc.ID
}

func TestAdminLoginAndTokenChecks(t *testing.T) {
	f := setupAdmin(t)

	if w := f.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v0/admin/stats", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	accountToken, _ := security.GenerateToken(f.svc.JWT.Secret, 1, "CODE", time.Hour)
	if w := f.do(t, http.MethodGet, "/v0/admin/stats", accountToken, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for account token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", w.Code)
	}

	f.svc.DB.Model(&models.Admin{}).Where("username = ?", "ops").Update("active", false)
	if w := f.do(t, http.MethodGet, "/v0/admin/stats", f.token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled admin, got %d", w.Code)
	}
}

func TestAdminWithdrawalApproval(t *testing.T) {
	f := setupAdmin(t)
	accountID := f.investor(t, "9876543210")

	w := f.do(t, http.MethodPost, fmt.Sprintf("/v0/admin/accounts/%d/adjust", accountID), f.token, gin.H{"amount": "500", "reason": "goodwill"})
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: status %d body=%s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, fmt.Sprintf("/v0/admin/accounts/%d/adjust", accountID), f.token, gin.H{"amount": "-900", "reason": "clawback"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overdraft adjustment, got %d body=%s", w.Code, w.Body.String())
	}

	req, errRequest := f.svc.Withdrawals.Request(context.Background(), accountID, decimal.NewFromInt(150), "IFSC0001 / 1234")
	if errRequest != nil {
		t.Fatalf("request withdrawal: %v", errRequest)
	}

	w = f.do(t, http.MethodGet, "/v0/admin/withdrawals/pending", f.token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "IFSC0001 / 1234") {
		t.Fatalf("pending: status %d body=%s", w.Code, w.Body.String())
	}

	path := fmt.Sprintf("/v0/admin/withdrawals/%d/approve", req.ID)
	if w = f.do(t, http.MethodPost, path, f.token, nil); w.Code != http.StatusOK {
		t.Fatalf("approve: status %d body=%s", w.Code, w.Body.String())
	}
	if w = f.do(t, http.MethodPost, path, f.token, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second approve, got %d", w.Code)
	}
	if w = f.do(t, http.MethodPost, fmt.Sprintf("/v0/admin/withdrawals/%d/cancel", req.ID), f.token, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a completed withdrawal, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/v0/admin/accounts/%d", accountID), f.token, nil)
	var detail struct {
		Account api.AccountView `json:"account"`
		Audit   struct {
			Consistent bool `json:"consistent"`
		} `json:"audit"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &detail); errDecode != nil {
		t.Fatalf("decode account: %v", errDecode)
	}
	if detail.Account.WalletBalance != "350.00" || !detail.Audit.Consistent || detail.Account.Phone != "9876543210" {
		t.Fatalf("unexpected account detail %+v", detail)
	}

	w = f.do(t, http.MethodGet, "/v0/admin/stats", f.token, nil)
	var stats struct {
		Accounts int64             `json:"accounts"`
		Totals   map[string]string `json:"totals"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &stats); errDecode != nil {
		t.Fatalf("decode stats: %v", errDecode)
	}
	if stats.Accounts != 1 || stats.Totals["withdrawn"] != "150.00" || stats.Totals["wallet_total"] != "350.00" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/v0/admin/transactions?account_id=%d&kind=withdrawal", accountID), f.token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"bank_details":"IFSC0001 / 1234"`) {
		t.Fatalf("transactions: status %d body=%s", w.Code, w.Body.String())
	}
}

func TestAdminVerifyPaymentAndRunAccrual(t *testing.T) {
	f := setupAdmin(t)
	accountID := f.investor(t, "9876543210")

	checkout, errOpen := f.svc.Payments.OpenIntent(context.Background(), accountID, 1, decimal.NewFromInt(599))
	if errOpen != nil {
		t.Fatalf("open intent: %v", errOpen)
	}
	txID := checkout.Intent.TransactionID

	w := f.do(t, http.MethodPost, "/v0/admin/payments/"+txID+"/verify", f.token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"completed":true`) {
		t.Fatalf("verify: status %d body=%s", w.Code, w.Body.String())
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/payments/UNKNOWN/verify", f.token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown intent, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/v0/admin/investments?status=active", f.token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"principal":"599.00"`) {
		t.Fatalf("investments: status %d body=%s", w.Code, w.Body.String())
	}

	date := f.svc.Ledger.Today().AddDate(0, 0, 1).Format(investment.RunDateLayout)
	w = f.do(t, http.MethodPost, "/v0/admin/accrual/run", f.token, gin.H{"date": date})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"credited":1`) {
		t.Fatalf("accrual: status %d body=%s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/v0/admin/accrual/run", f.token, gin.H{"date": date})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"skipped":true`) {
		t.Fatalf("second accrual: status %d body=%s", w.Code, w.Body.String())
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/accrual/run", f.token, gin.H{"date": "15/10/2026"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v0/admin/accrual/last", f.token, nil)
	if !strings.Contains(w.Body.String(), date) {
		t.Fatalf("last run: body=%s", w.Body.String())
	}

	acc, _ := f.svc.Accounts.Get(context.Background(), accountID)
	if acc.WalletBalance.StringFixed(2) != "47.92" {
		t.Fatalf("expected balance 47.92, got %s", acc.WalletBalance.StringFixed(2))
	}
}

func TestAdminDeleteAccount(t *testing.T) {
	f := setupAdmin(t)
	accountID := f.investor(t, "9876543210")

	if w := f.do(t, http.MethodDelete, fmt.Sprintf("/v0/admin/accounts/%d", accountID), f.token, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: status %d body=%s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodDelete, fmt.Sprintf("/v0/admin/accounts/%d", accountID), f.token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v0/admin/accounts", f.token, nil); !strings.Contains(w.Body.String(), `"total":0`) {
		t.Fatalf("accounts: body=%s", w.Body.String())
	}
}

func TestAdminSettings(t *testing.T) {
	f := setupAdmin(t)

	w := f.do(t, http.MethodPut, "/v0/admin/settings/upi_payee_id", f.token, gin.H{"value": "newpayee@ybl"})
	if w.Code != http.StatusOK {
		t.Fatalf("update setting: status %d body=%s", w.Code, w.Body.String())
	}
	if got := settings.StringValue(settings.UPIPayeeIDKey, ""); got != "newpayee@ybl" {
		t.Fatalf("expected refreshed snapshot, got %q", got)
	}
	if w = f.do(t, http.MethodPut, "/v0/admin/settings/NOT_A_KEY", f.token, gin.H{"value": 1}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/v0/admin/settings", f.token, nil)
	if !strings.Contains(w.Body.String(), "newpayee@ybl") {
		t.Fatalf("settings list: body=%s", w.Body.String())
	}
}

func TestAdminTOTPEnrolmentRequiresCodeAtLogin(t *testing.T) {
	f := setupAdmin(t)

	w := f.do(t, http.MethodPost, "/v0/admin/mfa/totp/prepare", f.token, nil)
	var prepared struct {
		Secret string `json:"secret"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &prepared); errDecode != nil || prepared.Secret == "" {
		t.Fatalf("prepare: status %d body=%s", w.Code, w.Body.String())
	}
	code, errCode := totp.GenerateCode(prepared.Secret, time.Now())
	if errCode != nil {
		t.Fatalf("generate code: %v", errCode)
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/confirm", f.token, gin.H{"code": code}); w.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body=%s", w.Code, w.Body.String())
	}

	if w = f.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "operator-pass"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 mfa required, got %d", w.Code)
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/login/totp", "", gin.H{"username": "ops", "password": "operator-pass", "code": "000000"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong totp, got %d", w.Code)
	}
	code, _ = totp.GenerateCode(prepared.Secret, time.Now())
	if w = f.do(t, http.MethodPost, "/v0/admin/login/totp", "", gin.H{"username": "ops", "password": "operator-pass", "code": code}); w.Code != http.StatusOK {
		t.Fatalf("totp login: status %d body=%s", w.Code, w.Body.String())
	}
}

func TestAdminTOTPSecretSealedAndDisableNeedsCode(t *testing.T) {
	f := setupAdmin(t)

	w := f.do(t, http.MethodPost, "/v0/admin/mfa/totp/prepare", f.token, nil)
	var prepared struct {
		Secret string `json:"secret"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &prepared); errDecode != nil || prepared.Secret == "" {
		t.Fatalf("prepare: status %d body=%s", w.Code, w.Body.String())
	}
	code, _ := totp.GenerateCode(prepared.Secret, time.Now())
	if w = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/confirm", f.token, gin.H{"code": code}); w.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body=%s", w.Code, w.Body.String())
	}

	var stored models.Admin
	if errFind := f.svc.DB.Where("username = ?", "ops").First(&stored).Error; errFind != nil {
		t.Fatalf("load admin: %v", errFind)
	}
	if stored.TOTPSecret == "" || stored.TOTPSecret == prepared.Secret {
		t.Fatalf("totp secret must be stored sealed, got %q", stored.TOTPSecret)
	}
	if opened, errOpen := f.svc.Cipher.Decrypt(stored.TOTPSecret); errOpen != nil || opened != prepared.Secret {
		t.Fatalf("sealed secret does not open to the enrolled one: %q err=%v", opened, errOpen)
	}

	if w = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/disable", f.token, gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("disable without code: expected 400, got %d", w.Code)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/disable", f.token, gin.H{"code": wrong}); w.Code != http.StatusUnauthorized {
		t.Fatalf("disable with wrong code: expected 401, got %d", w.Code)
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "operator-pass"}); w.Code != http.StatusForbidden {
		t.Fatalf("totp must still be required, got %d", w.Code)
	}

	code, _ = totp.GenerateCode(prepared.Secret, time.Now())
	if w = f.do(t, http.MethodPost, "/v0/admin/mfa/totp/disable", f.token, gin.H{"code": code}); w.Code != http.StatusOK {
		t.Fatalf("disable: status %d body=%s", w.Code, w.Body.String())
	}
	if w = f.do(t, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ops", "password": "operator-pass"}); w.Code != http.StatusOK {
		t.Fatalf("password login after disable: status %d body=%s", w.Code, w.Body.String())
	}
}
