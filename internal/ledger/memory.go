package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// MemoryRepository keeps the ledger in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (r *MemoryRepository) Create(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.SubmissionID]; ok {
		return fmt.Errorf("submission %s already recorded", rec.SubmissionID)
	}
	r.records[rec.SubmissionID] = *rec
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, submissionID string) error {
	r.mu.Lock()
	delete(r.records, submissionID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, submissionID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[submissionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) FindByLocation(ctx context.Context, loc storage.Location) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.Location == loc {
			return &rec, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) MarkScan(ctx context.Context, submissionID string, status models.ScanStatus, at time.Time, details string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[submissionID]
	if !ok {
		return false, common.ErrNotFound
	}
	if rec.Scan.Status != models.ScanPending {
		return false, nil
	}
	if err := rec.Scan.Transition(status, at, details); err != nil {
		return false, err
	}
	r.records[submissionID] = rec
	return true, nil
}

func (r *MemoryRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Record
	for _, rec := range r.records {
		if rec.Scan.Status == models.ScanPending && rec.Scan.RequestedAt.Before(before) {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Scan.RequestedAt.Before(out[j].Scan.RequestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
