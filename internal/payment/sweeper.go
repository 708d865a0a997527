package payment

import (
	"context"
	"time"

	"github.com/investkar/ledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// DefaultSweepInterval is the fallback cadence of the stale intent sweep.
	DefaultSweepInterval = time.Minute
	sweepBatchSize       = 200
)

// Janitor is an extra cleanup step run on every sweep. It returns the rows it removed.
type Janitor func(ctx context.Context) (int64, error)

// Sweeper finishes intents whose watcher is gone, e.g. after a restart. It times out stale
// pending intents and reconciles verified ones.
type Sweeper struct {
	db         *gorm.DB
	reconciler *Reconciler
	interval   func() time.Duration
	janitors   map[string]Janitor
}

// NewSweeper builds a Sweeper. interval is consulted before every pass; nil uses
// DefaultSweepInterval.
func NewSweeper(conn *gorm.DB, reconciler *Reconciler, interval func() time.Duration) *Sweeper {
	if conn == nil || reconciler == nil {
		return nil
	}
	if interval == nil {
		interval = func() time.Duration { return DefaultSweepInterval }
	}
	return &Sweeper{
		db:         conn,
		reconciler: reconciler,
		interval:   interval,
		janitors:   make(map[string]Janitor),
	}
}

// AddJanitor registers an extra cleanup step under name.
func (s *Sweeper) AddJanitor(name string, fn Janitor) {
	if s == nil || fn == nil {
		return
	}
	s.janitors[name] = fn
}

// Start launches the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("payment sweeper started (interval=%s)", s.interval())
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.SweepOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// SweepResult counts what one pass changed.
type SweepResult struct {
	Expired    int
	Reconciled int
	Purged     int64
}

// SweepOnce runs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	var result SweepResult
	if s == nil {
		return result
	}

	cutoff := s.reconciler.now().Add(-s.reconciler.Timeout())
	var stale []models.PaymentIntent
	if errFind := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PaymentIntentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(sweepBatchSize).
		Find(&stale).Error; errFind != nil {
		log.WithError(errFind).Warn("payment sweeper: load stale intents failed")
	}
	for i := range stale {
		expired, err := s.reconciler.ExpireIfPending(ctx, stale[i].TransactionID, s.reconciler.Deadline(&stale[i]))
		if err != nil {
			log.WithError(err).Warnf("payment sweeper: expire %s failed", stale[i].TransactionID)
			continue
		}
		if expired {
			result.Expired++
		}
	}

	var verified []models.PaymentIntent
	if errFind := s.db.WithContext(ctx).
		Where("status = ?", models.PaymentIntentStatusVerified).
		Order("verified_at ASC").
		Limit(sweepBatchSize).
		Find(&verified).Error; errFind != nil {
		log.WithError(errFind).Warn("payment sweeper: load verified intents failed")
	}
	for i := range verified {
		done, err := s.reconciler.Reconcile(ctx, verified[i].TransactionID)
		if err != nil {
			log.WithError(err).Warnf("payment sweeper: reconcile %s failed", verified[i].TransactionID)
			continue
		}
		if done {
			result.Reconciled++
		}
	}

	for name, janitor := range s.janitors {
		n, err := janitor(ctx)
		if err != nil {
			log.WithError(err).Warnf("payment sweeper: %s failed", name)
			continue
		}
		result.Purged += n
	}

	if result.Expired > 0 || result.Reconciled > 0 || result.Purged > 0 {
		log.Infof("payment sweeper: expired=%d reconciled=%d purged=%d", result.Expired, result.Reconciled, result.Purged)
	}
	return result
}
