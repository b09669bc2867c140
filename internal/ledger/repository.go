// Package ledger records every stored submission and its scan state.
// The ledger row is the compare-and-set point for scan transitions: a
// transition only applies while the row is still pending.
package ledger

import (
	"context"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// Record is one stored submission.
type Record struct {
	SubmissionID  string
	Location      storage.Location
	SourceForm    string
	ArchiveDigest string
	CreatedAt     time.Time
	Scan          models.ScanRecord
}

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, submissionID string) error
	Get(ctx context.Context, submissionID string) (*Record, error)
	FindByLocation(ctx context.Context, loc storage.Location) (*Record, error)
	// MarkScan moves a pending record to status. It reports false, without
	// error, when the record was no longer pending.
	MarkScan(ctx context.Context, submissionID string, status models.ScanStatus, at time.Time, details string) (bool, error)
	// ListPending returns pending records requested before the given time,
	// oldest first.
	ListPending(ctx context.Context, before time.Time, limit int) ([]*Record, error)
}
