package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/metrics"
)

// Policy bounds the attempts allowed for one operation inside a window.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

// Policies used by the account registry.
var (
	// OtpVerify allows 5 OTP verifications per 10 minutes per phone.
	OtpVerify = Policy{Name: "otp_verify", MaxAttempts: 5, Window: 10 * time.Minute}
	// Login allows 10 login attempts per 30 minutes per phone.
	Login = Policy{Name: "login", MaxAttempts: 10, Window: 30 * time.Minute}
)

// Decision is the outcome of one attempt against a store.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store keeps per-key attempt counters. Hit must apply the whole rule atomically:
// start a window when none exists, increment while under the limit, reset once a
// saturated window has elapsed, and deny otherwise.
type Store interface {
	Hit(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)
}

// Limiter guards operations with a pluggable Store and clock.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New builds a Limiter. A nil store falls back to a process-local MemoryStore.
func New(store Store) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Guard records an attempt for key under policy and fails with a RateLimitedError when the
// window is saturated.
func (l *Limiter) Guard(ctx context.Context, key string, policy Policy) error {
	if l == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" || policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}
	fullKey := policy.Name + ":" + key
	decision, err := l.store.Hit(ctx, fullKey, policy, l.now())
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", policy.Name, err)
	}
	if !decision.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(policy.Name).Inc()
		return &apperr.RateLimitedError{Key: fullKey, RetryAfter: decision.RetryAfter}
	}
	return nil
}
