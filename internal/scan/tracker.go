// Package scan tracks the malware-scan lifecycle of stored archives. An
// external scanner writes verdict tags; the Tracker turns them into exactly
// one terminal scan status per archive and quarantines malicious ones.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// StatusTag is the index tag carrying the recorded scan status.
const StatusTag = "scan-status"

// Verdict is what a consumer may do with an object.
type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictClean
	VerdictUnsafe
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictUnsafe:
		return "unsafe"
	}
	return "pending"
}

// Result is the outcome of one Check.
type Result struct {
	Location    storage.Location
	Status      models.ScanStatus
	Details     string
	Quarantined bool
}

// Verdict collapses the status for consumers: only clean is usable.
func (r Result) Verdict() Verdict {
	switch r.Status {
	case models.ScanClean:
		return VerdictClean
	case models.ScanPending:
		return VerdictPending
	}
	return VerdictUnsafe
}

// Tracker applies scan verdicts. It is safe for concurrent use; concurrent
// Checks of one object agree through the ledger compare-and-set.
type Tracker struct {
	store        storage.Store
	ledger       ledger.Repository
	quarantine   *Quarantine
	provider     Provider
	pollInterval time.Duration
	logger       logging.Logger
	now          func() time.Time
}

func NewTracker(store storage.Store, repo ledger.Repository, q *Quarantine, provider Provider, pollInterval time.Duration, logger logging.Logger) *Tracker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Tracker{
		store:        store,
		ledger:       repo,
		quarantine:   q,
		provider:     provider,
		pollInterval: pollInterval,
		logger:       logger.With("module", "scan"),
		now:          time.Now,
	}
}

// Provider reports the configured scanner.
func (t *Tracker) Provider() Provider {
	return t.provider
}

// Check evaluates the current scan state of loc and records any new
// terminal status.
func (t *Tracker) Check(ctx context.Context, loc storage.Location) (Result, error) {
	tags, err := t.store.GetTags(ctx, loc)
	if errors.Is(err, common.ErrNotFound) {
		return t.checkMissing(ctx, loc, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read scan tags: %w", err)
	}

	recorded := models.ScanStatus(tags[StatusTag])
	if recorded.Terminal() {
		res := Result{Location: loc, Status: recorded}
		if recorded == models.ScanMalicious {
			// Still in the intake bucket: a previous quarantine was interrupted.
			_, res.Details = t.provider.interpret(tags)
			return t.isolate(ctx, res)
		}
		return res, nil
	}

	status, details := t.provider.interpret(tags)
	if status == models.ScanPending {
		return Result{Location: loc, Status: models.ScanPending}, nil
	}

	final, finalDetails, err := t.record(ctx, loc, status, details)
	if err != nil {
		return Result{}, err
	}

	tags[StatusTag] = string(final)
	if err := t.store.SetTags(ctx, loc, tags); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// A concurrent check already quarantined it.
			return t.checkMissing(ctx, loc, err)
		}
		return Result{}, fmt.Errorf("write scan tags: %w", err)
	}

	res := Result{Location: loc, Status: final, Details: finalDetails}
	t.logger.Info(ctx, "scan status recorded", "object", loc.String(), "status", string(final))

	if final == models.ScanMalicious {
		return t.isolate(ctx, res)
	}
	return res, nil
}

// record applies status through the ledger. If another actor already moved
// the record, its status is returned instead.
func (t *Tracker) record(ctx context.Context, loc storage.Location, status models.ScanStatus, details string) (models.ScanStatus, string, error) {
	rec, err := t.ledger.FindByLocation(ctx, loc)
	if errors.Is(err, common.ErrNotFound) {
		t.logger.Warn(ctx, "no ledger record for scanned object", "object", loc.String())
		return status, details, nil
	}
	if err != nil {
		return "", "", fmt.Errorf("ledger lookup: %w", err)
	}

	applied, err := t.ledger.MarkScan(ctx, rec.SubmissionID, status, t.now(), details)
	if err != nil {
		return "", "", fmt.Errorf("ledger transition: %w", err)
	}
	if applied {
		return status, details, nil
	}

	current, err := t.ledger.Get(ctx, rec.SubmissionID)
	if err != nil {
		return "", "", fmt.Errorf("ledger reload: %w", err)
	}
	return current.Scan.Status, current.Scan.Details, nil
}

func (t *Tracker) isolate(ctx context.Context, res Result) (Result, error) {
	if t.quarantine == nil {
		return res, nil
	}
	if _, err := t.quarantine.Isolate(ctx, res.Location, res.Details); err != nil {
		return res, err
	}
	res.Quarantined = true
	return res, nil
}

// checkMissing resolves an object that is gone from the intake bucket,
// normally because it was quarantined.
func (t *Tracker) checkMissing(ctx context.Context, loc storage.Location, cause error) (Result, error) {
	rec, err := t.ledger.FindByLocation(ctx, loc)
	if err != nil {
		return Result{}, fmt.Errorf("read scan tags: %w", cause)
	}
	return Result{
		Location:    loc,
		Status:      rec.Scan.Status,
		Details:     rec.Scan.Details,
		Quarantined: rec.Scan.Status == models.ScanMalicious,
	}, nil
}

// Await polls Check until the verdict is no longer pending or timeout
// elapses. A timeout is not an error: the pending result is returned.
func (t *Tracker) Await(ctx context.Context, loc storage.Location, timeout time.Duration) (Result, error) {
	res, err := t.Check(ctx, loc)
	if err != nil || res.Verdict() != VerdictPending || timeout <= 0 {
		return res, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-deadline.C:
			return res, nil
		case <-ticker.C:
			res, err = t.Check(ctx, loc)
			if err != nil || res.Verdict() != VerdictPending {
				return res, err
			}
		}
	}
}
