package scan

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// QuarantineReason is recorded on every isolated object. The scanner's own
// finding goes to scan-details.
const QuarantineReason = string(models.ScanMalicious)

// ErrSameLocation is returned when the quarantine destination is the source
// itself, which would delete the archive instead of moving it.
var ErrSameLocation = errors.New("quarantine destination equals source")

// Quarantine moves malicious archives out of the intake bucket.
type Quarantine struct {
	store  storage.Store
	bucket string
	prefix string
	retry  storage.RetryPolicy
	logger logging.Logger
	now    func() time.Time
}

func NewQuarantine(store storage.Store, bucket, prefix string, retry storage.RetryPolicy, logger logging.Logger) *Quarantine {
	return &Quarantine{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		retry:  retry,
		logger: logger.With("module", "quarantine"),
		now:    time.Now,
	}
}

// Destination is the quarantine location for src. It depends only on src,
// so repeating an interrupted quarantine overwrites the same object.
func (q *Quarantine) Destination(src storage.Location) storage.Location {
	return storage.Location{Bucket: q.bucket, Key: path.Join(q.prefix, src.Key)}
}

// Isolate copies src into quarantine with provenance metadata and then
// deletes the original. A missing source whose quarantine copy exists counts
// as already done.
func (q *Quarantine) Isolate(ctx context.Context, src storage.Location, details string) (storage.Location, error) {
	dst := q.Destination(src)
	if dst == src {
		return dst, fmt.Errorf("quarantine %s: %w", src, ErrSameLocation)
	}

	info, err := q.store.Head(ctx, src)
	if err != nil {
		if q.done(ctx, dst, err) {
			return dst, nil
		}
		return dst, fmt.Errorf("quarantine head %s: %w", src, err)
	}

	meta := info.Metadata
	meta["scan-status"] = string(models.ScanMalicious)
	meta["quarantined-at"] = q.now().UTC().Format(time.RFC3339)
	meta["quarantined-reason"] = QuarantineReason
	meta["original-bucket"] = src.Bucket
	meta["original-key"] = src.Key
	meta["scan-details"] = models.TruncateBytes(details, models.MaxScanDetails)

	tags := map[string]string{
		"quarantined": "true",
		"scan-status": string(models.ScanMalicious),
	}
	if form := meta["source-form"]; form != "" {
		tags["source-form"] = form
	}

	err = storage.Retry(ctx, q.retry, func(ctx context.Context) error {
		return q.store.Copy(ctx, src, dst, meta, tags)
	})
	if err != nil {
		if q.done(ctx, dst, err) {
			return dst, nil
		}
		return dst, fmt.Errorf("quarantine copy %s: %w", src, err)
	}

	err = storage.Retry(ctx, q.retry, func(ctx context.Context) error {
		return q.store.Delete(ctx, src)
	})
	if err != nil {
		return dst, fmt.Errorf("quarantine delete %s: %w", src, err)
	}

	q.logger.Warn(ctx, "archive quarantined",
		"submission_id", meta["submission-id"], "source", src.String(), "destination", dst.String())
	return dst, nil
}

// done reports whether a source lookup failed only because the object was
// already moved to dst.
func (q *Quarantine) done(ctx context.Context, dst storage.Location, err error) bool {
	if !errors.Is(err, common.ErrNotFound) {
		return false
	}
	_, dstErr := q.store.Head(ctx, dst)
	return dstErr == nil
}
