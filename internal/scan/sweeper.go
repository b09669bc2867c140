package scan

import (
	"context"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
)

// Sweeper periodically re-checks pending submissions so verdicts are
// recorded even when nobody polls for them.
type Sweeper struct {
	tracker    *Tracker
	ledger     ledger.Repository
	interval   time.Duration
	alertAfter time.Duration
	batch      int
	logger     logging.Logger
	now        func() time.Time
}

func NewSweeper(tracker *Tracker, repo ledger.Repository, interval, alertAfter time.Duration, batch int, logger logging.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		tracker:    tracker,
		ledger:     repo,
		interval:   interval,
		alertAfter: alertAfter,
		batch:      batch,
		logger:     logger.With("module", "sweeper"),
		now:        time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep checks one batch of pending records and returns how many left the
// pending state.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now()
	recs, err := s.ledger.ListPending(ctx, now, s.batch)
	if err != nil {
		s.logger.Error(ctx, "list pending submissions", "error", err)
		return 0
	}

	resolved := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		res, err := s.tracker.Check(ctx, rec.Location)
		if err != nil {
			s.logger.Error(ctx, "scan check failed", "submission_id", rec.SubmissionID, "error", err)
			continue
		}
		if res.Verdict() != VerdictPending {
			resolved++
			continue
		}
		if age := now.Sub(rec.Scan.RequestedAt); s.alertAfter > 0 && age > s.alertAfter {
			s.logger.Warn(ctx, "scan overdue",
				"submission_id", rec.SubmissionID, "object", rec.Location.String(), "pending_for", age.String())
		}
	}
	return resolved
}
