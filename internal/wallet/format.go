package wallet

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatINR renders an amount as rupees, e.g. ₹1,099.00.
func FormatINR(amount decimal.Decimal) string {
	paise := amount.Shift(2).Round(0).IntPart()
	return money.New(paise, money.INR).Display()
}
