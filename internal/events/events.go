package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Routing keys for ledger events.
const (
	AccountRegistered   = "account.registered"
	InvestmentActivated = "investment.activated"
	InvestmentCompleted = "investment.completed"
	AccrualCompleted    = "accrual.completed"
	WithdrawalRequested = "withdrawal.requested"
	WithdrawalCompleted = "withdrawal.completed"
	WithdrawalCancelled = "withdrawal.cancelled"
	PaymentCompleted    = "payment.completed"
	PaymentTimedOut     = "payment.timeout"
	PaymentRefundDue    = "payment.refund_due"
	WalletAdjusted      = "wallet.adjusted"
)

// Event is the JSON payload published after a ledger change commits.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	AccountID  uint64         `json:"account_id,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType string, accountID uint64, reference, amount string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		AccountID:  accountID,
		Reference:  reference,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher is implemented by event sinks.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Emit publishes event and logs, rather than returns, failures. Events are sent after the
// ledger transaction committed, so a broker outage must not surface as a ledger error.
func Emit(ctx context.Context, publisher Publisher, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event_type": event.Type,
			"event_id":   event.ID,
		}).Warn("events: publish failed")
	}
}

// Fallback is a no-op publisher used when no broker is configured or reachable.
type Fallback struct{}

// Publish implements Publisher.
func (Fallback) Publish(_ context.Context, event Event) error {
	log.WithField("event_type", event.Type).Debug("events: broker unavailable, publish skipped")
	return nil
}

// Close implements Publisher.
func (Fallback) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close implements Publisher.
func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
