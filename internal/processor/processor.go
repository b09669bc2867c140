// Package processor extracts clean submission archives into the processed
// bucket and announces each finished submission.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/digest"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/queue"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// DefaultPrefix is the processed-bucket key prefix.
const DefaultPrefix = "processed"

// Options configure a Processor.
type Options struct {
	Bucket string
	Prefix string
	Limits archive.Limits
	Retry  storage.RetryPolicy
	// AllowNoScan lets archives with status no_scan through. Only for
	// deployments without a scanner.
	AllowNoScan bool
}

// Processor handles one object-created event at a time. Every step is
// idempotent, so a redelivered event overwrites the same keys and publishes
// the same completion event id.
type Processor struct {
	opts      Options
	store     storage.Store
	tracker   *scan.Tracker
	publisher queue.Publisher
	logger    logging.Logger
	now       func() time.Time
}

func New(opts Options, store storage.Store, tracker *scan.Tracker, publisher queue.Publisher, logger logging.Logger) *Processor {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Limits.MaxMembers <= 0 || opts.Limits.MaxBytes <= 0 {
		opts.Limits = archive.DefaultLimits
	}
	return &Processor{
		opts:      opts,
		store:     store,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger.With("module", "processor"),
		now:       time.Now,
	}
}

// Permanent reports whether err will not go away on redelivery.
func Permanent(err error) bool {
	return errors.Is(err, common.ErrMalformedArchive) ||
		errors.Is(err, common.ErrManifestMissing) ||
		errors.Is(err, common.ErrUnsafeObject)
}

// Process extracts the archive named by ev. Objects that are not zip
// archives are skipped without error.
func (p *Processor) Process(ctx context.Context, ev models.QueueEvent) error {
	src := storage.Location{Bucket: ev.Bucket, Key: ev.ObjectKey}
	log := p.logger.With("object", src.String(), "event_id", ev.EventID, "attempt", ev.DeliveryAttempt)

	if !isZip(ev) {
		log.Info(ctx, "skipping non-zip object")
		return nil
	}

	status, err := p.gate(ctx, src)
	if err != nil {
		return err
	}

	var (
		body []byte
		info storage.ObjectInfo
	)
	err = storage.Retry(ctx, p.opts.Retry, func(ctx context.Context) error {
		var err error
		body, info, err = p.store.Get(ctx, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", src, err)
	}

	m, files, err := p.open(body, info)
	if err != nil {
		return err
	}

	keys, err := p.upload(ctx, src, status, m, files)
	if err != nil {
		return err
	}

	if p.publisher == nil {
		log.Warn(ctx, "no completion publisher configured", "submission_id", m.SubmissionID)
	} else {
		done := models.CompletionEvent{
			EventID:       models.CompletionEventID(m.SubmissionID),
			SubmissionID:  m.SubmissionID,
			SourceKey:     src.Key,
			ProcessedKeys: keys,
			FileCount:     len(m.Files),
			ProcessedAt:   p.now().UTC(),
			Status:        models.CompletionStatusProcessed,
		}
		if err := p.publisher.Publish(ctx, done); err != nil {
			return fmt.Errorf("publish completion for %s: %w", m.SubmissionID, err)
		}
	}

	log.Info(ctx, "submission processed", "submission_id", m.SubmissionID, "files", len(m.Files))
	return nil
}

func isZip(ev models.QueueEvent) bool {
	return strings.HasSuffix(strings.ToLower(ev.ObjectKey), ".zip") || ev.ContentType == "application/zip"
}

// gate lets only clean objects through. Pending is transient; every other
// outcome is permanent.
func (p *Processor) gate(ctx context.Context, src storage.Location) (models.ScanStatus, error) {
	res, err := p.tracker.Check(ctx, src)
	if errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("%w: %s no longer exists", common.ErrUnsafeObject, src)
	}
	if err != nil {
		return "", fmt.Errorf("scan check %s: %w", src, err)
	}

	switch {
	case res.Verdict() == scan.VerdictClean:
		return res.Status, nil
	case res.Verdict() == scan.VerdictPending:
		return "", fmt.Errorf("%s: %w", src, common.ErrScanPending)
	case res.Status == models.ScanNoScan && p.opts.AllowNoScan:
		return res.Status, nil
	}
	return "", fmt.Errorf("%w: %s has scan status %s", common.ErrUnsafeObject, src, res.Status)
}

type extracted struct {
	file    models.ManifestFile
	content []byte
}

// open extracts the archive and checks it against its manifest and the
// digest recorded in object metadata.
func (p *Processor) open(body []byte, info storage.ObjectInfo) (*models.Manifest, []extracted, error) {
	members, err := archive.Extract(body, p.opts.Limits)
	if err != nil {
		return nil, nil, err
	}

	byName := make(map[string][]byte, len(members))
	for _, mem := range members {
		byName[mem.Name] = mem.Content
	}

	raw, ok := byName[models.ManifestName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no %s in archive", common.ErrManifestMissing, models.ManifestName)
	}
	m, err := models.ParseManifest(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrManifestMissing, err)
	}

	alg := m.DigestAlgorithm
	if !digest.Supported(alg) {
		return nil, nil, fmt.Errorf("%w: unsupported digest algorithm %q", common.ErrMalformedArchive, alg)
	}

	if want := info.Metadata["archive-digest"]; want != "" {
		got, err := digest.Bytes(alg, body)
		if err != nil {
			return nil, nil, err
		}
		if got != want {
			return nil, nil, fmt.Errorf("%w: archive digest mismatch", common.ErrMalformedArchive)
		}
	}

	if len(members) != len(m.Files)+1 {
		return nil, nil, fmt.Errorf("%w: archive has %d members, manifest lists %d files",
			common.ErrMalformedArchive, len(members)-1, len(m.Files))
	}

	files := make([]extracted, 0, len(m.Files))
	seen := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		content, ok := byName[f.ArchivePath]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s listed but missing", common.ErrMalformedArchive, f.ArchivePath)
		}
		base := path.Base(f.ArchivePath)
		if _, dup := seen[base]; dup || base == models.ManifestName {
			return nil, nil, fmt.Errorf("%w: duplicate file name %s", common.ErrMalformedArchive, base)
		}
		seen[base] = struct{}{}

		got, err := digest.Bytes(alg, content)
		if err != nil {
			return nil, nil, err
		}
		if got != f.Digest || int64(len(content)) != f.SizeBytes {
			return nil, nil, fmt.Errorf("%w: %s does not match its manifest entry", common.ErrMalformedArchive, f.ArchivePath)
		}
		files = append(files, extracted{file: f, content: content})
	}
	return m, append(files, extracted{
		file:    models.ManifestFile{ArchivePath: models.ManifestName, ContentType: "application/json"},
		content: raw,
	}), nil
}

// upload writes every file to <prefix>/<submissionId>/<basename>. Metadata
// depends only on the archive, so redelivery rewrites identical objects.
func (p *Processor) upload(ctx context.Context, src storage.Location, status models.ScanStatus, m *models.Manifest, files []extracted) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		dst := storage.Location{
			Bucket: p.opts.Bucket,
			Key:    path.Join(p.opts.Prefix, m.SubmissionID, path.Base(f.file.ArchivePath)),
		}

		meta := map[string]string{
			"submission-id":    m.SubmissionID,
			"source-form":      m.SourceForm,
			"source-location":  src.String(),
			"created-at":       m.CreatedAt.UTC().Format(time.RFC3339Nano),
			"digest-algorithm": m.DigestAlgorithm,
			"scan-status":      string(status),
		}
		if f.file.Digest != "" {
			meta["digest"] = f.file.Digest
			meta["verified-type"] = string(f.file.VerifiedType)
		}

		in := storage.PutInput{
			Location:    dst,
			Body:        f.content,
			ContentType: f.file.ContentType,
			Metadata:    meta,
			Tags:        map[string]string{"scan-status": string(status), "source-form": m.SourceForm},
		}
		err := storage.Retry(ctx, p.opts.Retry, func(ctx context.Context) error {
			return p.store.Put(ctx, in)
		})
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", dst, err)
		}
		keys = append(keys, dst.Key)
	}
	return keys, nil
}
