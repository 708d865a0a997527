package investment

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultAccrualSchedule runs accrual five minutes after midnight.
const DefaultAccrualSchedule = "5 0 * * *"

// Scheduler triggers RunDailyAccrual on a cron schedule. Redundant triggers are harmless
// because the ledger claims each date once.
type Scheduler struct {
	ledger     *Ledger
	cron       *cron.Cron
	spec       string
	runOnStart bool
	timeout    time.Duration
}

// NewScheduler builds a Scheduler for ledger. An empty spec uses DefaultAccrualSchedule.
func NewScheduler(ledger *Ledger, spec string, runOnStart bool) *Scheduler {
	if ledger == nil {
		return nil
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultAccrualSchedule
	}
	cronLogger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(ledger.location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		ledger:     ledger,
		cron:       c,
		spec:       spec,
		runOnStart: runOnStart,
		timeout:    10 * time.Minute,
	}
}

// Start registers the accrual job and starts the cron loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Infof("accrual scheduler started (schedule=%q location=%s)", s.spec, s.ledger.location)

	if s.runOnStart {
		go s.runOnce(ctx)
	}
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	report, err := s.ledger.RunDailyAccrual(runCtx, s.ledger.Today())
	if err != nil {
		log.WithError(err).Error("accrual scheduler: run failed")
		return
	}
	if report.Skipped {
		log.Debugf("accrual scheduler: %s already processed", report.RunDate)
	}
}
