package api

import (
	"time"

	"github.com/investkar/ledger/internal/models"
	"github.com/investkar/ledger/internal/payment"
	"github.com/investkar/ledger/internal/plans"
	"github.com/investkar/ledger/internal/wallet"
	"github.com/shopspring/decimal"
)

// AccountView is the JSON shape of an account. Phone is filled only when decrypted.
type AccountView struct {
	ID            uint64    `json:"id"`
	Phone         string    `json:"phone,omitempty"`
	WalletBalance string    `json:"wallet_balance"`
	WalletDisplay string    `json:"wallet_display"`
	ReferralCode  string    `json:"referral_code"`
	ReferredByID  *uint64   `json:"referred_by_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewAccountView converts an account row.
func NewAccountView(a *models.Account, phone string) AccountView {
	return AccountView{
		ID:            a.ID,
		Phone:         phone,
		WalletBalance: money(a.WalletBalance),
		WalletDisplay: wallet.FormatINR(a.WalletBalance),
		ReferralCode:  a.ReferralCode,
		ReferredByID:  a.ReferredByID,
		CreatedAt:     a.CreatedAt,
	}
}

// InvestmentView is the JSON shape of an investment.
type InvestmentView struct {
	ID            uint64    `json:"id"`
	AccountID     uint64    `json:"account_id"`
	PlanID        int       `json:"plan_id"`
	PlanName      string    `json:"plan_name"`
	Principal     string    `json:"principal"`
	DailyReturn   string    `json:"daily_return"`
	TotalProfit   string    `json:"total_profit"`
	TotalDays     int       `json:"total_days"`
	DaysRemaining int       `json:"days_remaining"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewInvestmentView converts an investment row.
func NewInvestmentView(inv *models.Investment) InvestmentView {
	view := InvestmentView{
		ID:            inv.ID,
		AccountID:     inv.AccountID,
		PlanID:        inv.PlanID,
		Principal:     money(inv.Principal),
		DailyReturn:   money(inv.DailyReturn),
		TotalProfit:   money(inv.TotalProfit),
		TotalDays:     inv.TotalDays,
		DaysRemaining: inv.DaysRemaining,
		Status:        inv.Status,
		PaymentMethod: inv.PaymentMethod,
		CreatedAt:     inv.CreatedAt,
	}
	if plan, err := plans.Get(inv.PlanID); err == nil {
		view.PlanName = plan.Name
	}
	return view
}

// TransactionView is the JSON shape of a ledger entry.
type TransactionView struct {
	ID           uint64    `json:"id"`
	AccountID    uint64    `json:"account_id"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	Delta        string    `json:"delta"`
	BalanceAfter string    `json:"balance_after"`
	Description  string    `json:"description"`
	BankDetails  string    `json:"bank_details,omitempty"`
	Status       string    `json:"status"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewTransactionView converts a transaction row. bankDetails is the decrypted payout
// destination, if any.
func NewTransactionView(t *models.Transaction, bankDetails string) TransactionView {
	return TransactionView{
		ID:           t.ID,
		AccountID:    t.AccountID,
		Kind:         t.Kind,
		Amount:       money(t.Amount),
		Delta:        money(t.Delta),
		BalanceAfter: money(t.BalanceAfter),
		Description:  t.Description,
		BankDetails:  bankDetails,
		Status:       t.Status,
		Reference:    t.Reference,
		CreatedAt:    t.CreatedAt,
	}
}

// WithdrawalView is the JSON shape of a withdrawal request.
type WithdrawalView struct {
	ID              uint64     `json:"id"`
	AccountID       uint64     `json:"account_id"`
	Amount          string     `json:"amount"`
	BankDetails     string     `json:"bank_details,omitempty"`
	Status          string     `json:"status"`
	PaymentIntentID *uint64    `json:"payment_intent_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// NewWithdrawalView converts a withdrawal row.
func NewWithdrawalView(req *models.WithdrawalRequest, bankDetails string) WithdrawalView {
	return WithdrawalView{
		ID:              req.ID,
		AccountID:       req.AccountID,
		Amount:          money(req.Amount),
		BankDetails:     bankDetails,
		Status:          req.Status,
		PaymentIntentID: req.PaymentIntentID,
		CreatedAt:       req.CreatedAt,
		ResolvedAt:      req.ResolvedAt,
	}
}

// IntentView is the JSON shape of a payment intent.
type IntentView struct {
	TransactionID        string     `json:"transaction_id"`
	AccountID            uint64     `json:"account_id"`
	Kind                 string     `json:"kind"`
	PlanID               int        `json:"plan_id,omitempty"`
	WithdrawalID         *uint64    `json:"withdrawal_id,omitempty"`
	Amount               string     `json:"amount"`
	Status               string     `json:"status"`
	VerificationAttempts int        `json:"verification_attempts"`
	RefundDue            bool       `json:"refund_due,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// NewIntentView converts a payment intent row.
func NewIntentView(intent *models.PaymentIntent) IntentView {
	return IntentView{
		TransactionID:        intent.TransactionID,
		AccountID:            intent.AccountID,
		Kind:                 intent.Kind,
		PlanID:               intent.PlanID,
		WithdrawalID:         intent.WithdrawalID,
		Amount:               money(intent.Amount),
		Status:               intent.Status,
		VerificationAttempts: intent.VerificationAttempts,
		RefundDue:            intent.RefundDue,
		CreatedAt:            intent.CreatedAt,
		VerifiedAt:           intent.VerifiedAt,
		CompletedAt:          intent.CompletedAt,
	}
}

// CheckoutView is returned when an intent is opened.
type CheckoutView struct {
	Intent     IntentView `json:"intent"`
	PaymentURL string     `json:"payment_url"`
	PayeeID    string     `json:"payee_id"`
	Deadline   time.Time  `json:"deadline"`
}

// NewCheckoutView converts a reconciler checkout.
func NewCheckoutView(c *payment.Checkout) CheckoutView {
	return CheckoutView{
		Intent:     NewIntentView(c.Intent),
		PaymentURL: c.PaymentURL,
		PayeeID:    c.PayeeID,
		Deadline:   c.Deadline,
	}
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }
