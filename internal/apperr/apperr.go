package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Ledger error kinds. Callers wrap these with fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientFunds indicates the wallet balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBelowMinimum indicates an amount below the configured minimum.
	ErrBelowMinimum = errors.New("amount below minimum")
	// ErrRateLimited indicates too many attempts inside the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrExpired indicates an OTP or payment intent outlived its window.
	ErrExpired = errors.New("expired")
	// ErrTransport indicates an external delivery failure (SMS, broker).
	ErrTransport = errors.New("transport failure")
	// ErrInvalidCredential indicates a wrong secret for an existing account.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrMismatch indicates a wrong OTP code.
	ErrMismatch = errors.New("code mismatch")
)

// RateLimitedError carries the time left until the limiter window resets.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry delay from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Validation builds an ErrValidation with a reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
