package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// LinkBuilder renders UPI deep links with a fixed amount.
type LinkBuilder struct {
	PayeeID   string
	PayeeName string
}

// Build returns upi://pay?pa=..&pn=..&am=..&tn=..&tr=..&cu=INR. Every value is escaped and the
// amount always carries two decimals so payer apps cannot reinterpret it.
func (b LinkBuilder) Build(amount decimal.Decimal, transactionID, note string) string {
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&tn=%s&tr=%s&cu=INR",
		escape(b.PayeeID),
		escape(b.PayeeName),
		escape(amount.StringFixed(2)),
		escape(note),
		escape(transactionID),
	)
}

// escape query-escapes a value using %20 for spaces, which UPI apps expect.
func escape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
