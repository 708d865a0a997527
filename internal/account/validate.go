package account

import (
	"strings"

	"github.com/investkar/ledger/internal/apperr"
)

// NormalizePhone strips whitespace and an optional +91 country prefix.
func NormalizePhone(phone string) string {
	phone = strings.Join(strings.Fields(phone), "")
	phone = strings.TrimPrefix(phone, "+91")
	return phone
}

// ValidatePhone accepts ten-digit Indian mobile numbers starting with 6-9.
func ValidatePhone(phone string) error {
	if len(phone) != 10 {
		return apperr.Validation("phone must have 10 digits")
	}
	if phone[0] < '6' || phone[0] > '9' {
		return apperr.Validation("phone must start with 6, 7, 8 or 9")
	}
	if !allDigits(phone) {
		return apperr.Validation("phone must contain only digits")
	}
	return nil
}

// ValidateSecret accepts exactly six digits.
func ValidateSecret(secret string) error {
	if len(secret) != 6 || !allDigits(secret) {
		return apperr.Validation("security code must be 6 digits")
	}
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
