package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/investkar/ledger/internal/apperr"
	"github.com/investkar/ledger/internal/models"
	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often a watcher reconciles its intent.
const DefaultPollInterval = 10 * time.Second

// Watcher polls open intents until they complete or reach their deadline.
type Watcher struct {
	reconciler *Reconciler
	interval   func() time.Duration

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewWatcher builds a Watcher. interval is consulted before every poll so runtime
// settings take effect on running watchers; nil uses DefaultPollInterval.
func NewWatcher(reconciler *Reconciler, interval func() time.Duration) *Watcher {
	if reconciler == nil {
		return nil
	}
	if interval == nil {
		interval = func() time.Duration { return DefaultPollInterval }
	}
	return &Watcher{
		reconciler: reconciler,
		interval:   interval,
		active:     make(map[string]struct{}),
	}
}

// Watch starts polling intent in a background goroutine. It reports false when the intent is
// already watched or no longer pending.
func (w *Watcher) Watch(ctx context.Context, intent *models.PaymentIntent) bool {
	if w == nil || intent == nil {
		return false
	}
	if intent.Status != models.PaymentIntentStatusPending && intent.Status != models.PaymentIntentStatusVerified {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	if _, ok := w.active[intent.TransactionID]; ok {
		w.mu.Unlock()
		return false
	}
	w.active[intent.TransactionID] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx, intent.TransactionID, w.reconciler.Deadline(intent))
	return true
}

// Active returns the number of intents being watched.
func (w *Watcher) Active() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// Wait blocks until every watcher goroutine has exited.
func (w *Watcher) Wait() {
	if w == nil {
		return
	}
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, transactionID string, deadline time.Time) {
	defer func() {
		w.mu.Lock()
		delete(w.active, transactionID)
		w.mu.Unlock()
		w.wg.Done()
	}()
	entry := log.WithField("transaction_id", transactionID)

	for {
		timer := time.NewTimer(w.interval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}

		done, err := w.reconciler.Reconcile(ctx, transactionID)
		if done {
			return
		}
		if err != nil {
			if errors.Is(err, apperr.ErrExpired) || errors.Is(err, apperr.ErrNotFound) {
				return
			}
			entry.WithError(err).Warn("payment watcher: reconcile failed")
		}

		if !w.reconciler.now().Before(deadline) {
			if _, errExpire := w.reconciler.ExpireIfPending(ctx, transactionID, deadline); errExpire != nil {
				entry.WithError(errExpire).Warn("payment watcher: expire failed")
			}
			return
		}
	}
}
