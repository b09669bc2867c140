// Package intake turns an untrusted multi-file form submission into a
// verified, packaged archive in the intake bucket with its scan requested.
package intake

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/classify"
	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/digest"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
	"github.com/dmitrijs2005/intakevault/internal/validate"
)

// DefaultMaxFiles bounds the number of file parts per submission.
const DefaultMaxFiles = 32

// FilePart is one uploaded file. Filename is used only for its extension.
type FilePart struct {
	Field    string
	Filename string
	Content  []byte
}

// Request is a parsed but unvalidated submission.
type Request struct {
	FormID            string
	SubmitterIdentity string
	Tags              map[string]string
	Fields            map[string]string
	Files             []FilePart
}

// Receipt describes a stored submission.
type Receipt struct {
	SubmissionID  string
	Location      storage.Location
	ArchiveDigest string
	ScanStatus    models.ScanStatus
	Quarantined   bool
	Files         []models.FileEntry
}

// Options configure a Service.
type Options struct {
	Forms           map[string]models.Form
	DefaultForm     string
	DigestAlgorithm string
	MaxFiles        int
	// SyncScanWait, when positive, makes Submit wait up to this long for a
	// scan verdict before answering.
	SyncScanWait time.Duration
}

// Service validates, packages and stores submissions.
type Service struct {
	opts       Options
	classifier *classify.Classifier
	tags       *validate.TagValidator
	packager   *archive.Packager
	writer     *Writer
	ledger     ledger.Repository
	tracker    *scan.Tracker
	logger     logging.Logger
	now        func() time.Time
	newID      func() string
}

func NewService(opts Options, classifier *classify.Classifier, tags *validate.TagValidator, packager *archive.Packager,
	writer *Writer, repo ledger.Repository, tracker *scan.Tracker, logger logging.Logger) *Service {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.DigestAlgorithm == "" {
		opts.DigestAlgorithm = digest.Default
	}
	return &Service{
		opts:       opts,
		classifier: classifier,
		tags:       tags,
		packager:   packager,
		writer:     writer,
		ledger:     repo,
		tracker:    tracker,
		logger:     logger.With("module", "intake"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Submit validates req as a whole and, if every check passes, stores it.
// Validation problems are returned together as validate.Errors. A malicious
// verdict observed during a synchronous wait returns the receipt together
// with common.ErrMalwareDetected.
func (s *Service) Submit(ctx context.Context, req Request) (*Receipt, error) {
	formID := req.FormID
	if formID == "" {
		formID = s.opts.DefaultForm
	}
	form, ok := s.opts.Forms[formID]
	if !ok {
		return nil, validate.Errors{{Field: "formId", Message: fmt.Sprintf("unknown form %q", formID)}}
	}

	id := s.newID()
	createdAt := s.now().UTC()

	files, errs := s.verifyFiles(form, req.Files)
	errs = append(errs, validate.Fields(req.Fields, form.RequiredFields)...)
	errs = append(errs, validate.Identity(req.SubmitterIdentity)...)

	system := map[string]string{
		"submission-id": id,
		"source-form":   form.ID,
	}
	effective, tagErrs := s.tags.Effective(req.Tags, system, form.RequiredTags)
	errs = append(errs, tagErrs...)

	if len(errs) > 0 {
		return nil, errs
	}

	sub := &models.Submission{
		ID:                id,
		CreatedAt:         createdAt,
		SourceForm:        form.ID,
		SubmitterIdentity: req.SubmitterIdentity,
		Tags:              effective,
		Fields:            nonEmpty(req.Fields),
		DigestAlgorithm:   s.opts.DigestAlgorithm,
		ScanProvider:      string(s.provider()),
		Files:             files,
	}

	pkg, err := s.packager.Pack(sub)
	if err != nil {
		return nil, validate.Errors{{Field: "files", Message: err.Error()}}
	}

	loc, err := s.store(ctx, form, pkg)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		SubmissionID:  id,
		Location:      loc,
		ArchiveDigest: pkg.ArchiveDigest,
		ScanStatus:    models.ScanPending,
		Files:         stripContent(files),
	}

	s.logger.Info(ctx, "submission stored",
		"submission_id", id, "form", form.ID, "object", loc.String(), "files", len(files), "bytes", sub.TotalSize())

	if s.opts.SyncScanWait > 0 && s.tracker != nil {
		res, err := s.tracker.Await(ctx, loc, s.opts.SyncScanWait)
		if err != nil {
			s.logger.Warn(ctx, "synchronous scan wait failed", "submission_id", id, "error", err)
			return receipt, nil
		}
		receipt.ScanStatus = res.Status
		receipt.Quarantined = res.Quarantined
		if res.Status == models.ScanMalicious {
			return receipt, fmt.Errorf("submission %s: %w", id, common.ErrMalwareDetected)
		}
	}
	return receipt, nil
}

func (s *Service) provider() scan.Provider {
	if s.tracker == nil {
		return scan.ProviderNone
	}
	return s.tracker.Provider()
}

// store records the submission in the ledger and writes the archive. The
// ledger row is removed again if the write fails so no record points at a
// missing object.
func (s *Service) store(ctx context.Context, form models.Form, pkg *archive.Package) (storage.Location, error) {
	m := pkg.Manifest
	loc := storage.Location{Bucket: s.writer.Bucket(), Key: ObjectKey(s.keyPrefix(form), m.SubmissionID, m.CreatedAt)}

	rec := &ledger.Record{
		SubmissionID:  m.SubmissionID,
		Location:      loc,
		SourceForm:    m.SourceForm,
		ArchiveDigest: pkg.ArchiveDigest,
		CreatedAt:     m.CreatedAt,
		Scan:          m.Scan,
	}
	if err := s.ledger.Create(ctx, rec); err != nil {
		return loc, fmt.Errorf("record submission: %w", err)
	}

	written, err := s.writer.Write(ctx, pkg, s.keyPrefix(form))
	if err != nil {
		if delErr := s.ledger.Delete(context.WithoutCancel(ctx), m.SubmissionID); delErr != nil {
			s.logger.Error(ctx, "ledger cleanup failed", "submission_id", m.SubmissionID, "error", delErr)
		}
		s.logger.Error(ctx, "archive write failed", "submission_id", m.SubmissionID, "error", err)
		return loc, err
	}
	return written, nil
}

func (s *Service) keyPrefix(form models.Form) string {
	if form.KeyPrefix != "" {
		return form.KeyPrefix
	}
	return s.writer.prefix
}

// verifyFiles classifies every part and checks it against the form. All
// problems are collected.
func (s *Service) verifyFiles(form models.Form, parts []FilePart) ([]models.FileEntry, validate.Errors) {
	var errs validate.Errors

	if len(parts) == 0 {
		errs.Add("files", "at least one file is required")
	}
	if len(parts) > s.opts.MaxFiles {
		errs.Add("files", "too many files: %d exceeds the maximum of %d", len(parts), s.opts.MaxFiles)
		return nil, errs
	}

	seen := make(map[string]struct{}, len(parts))
	files := make([]models.FileEntry, 0, len(parts))
	var total int64

	for i, p := range parts {
		field := p.Field
		if _, dup := seen[field]; dup {
			errs.Add(field, "field submitted more than once")
			continue
		}
		seen[field] = struct{}{}

		ff, declared := form.FileField(field)
		if !declared && !form.Open {
			errs.Add(field, "unexpected file field")
			continue
		}

		size := int64(len(p.Content))
		total += size
		if size > s.packager.MaxFileBytes {
			errs.Add(field, "file exceeds the %d byte limit", s.packager.MaxFileBytes)
			continue
		}

		ext := classify.NormalizeExtension(path.Ext(path.Base(p.Filename)))
		typ, err := s.classifier.Classify(p.Content, ext)
		if err != nil {
			errs.Add(field, "%s", rejectionMessage(err))
			continue
		}
		if !ff.Allows(typ) {
			errs.Add(field, "file type %s is not allowed for this field", typ)
			continue
		}

		sum, err := digest.Bytes(s.opts.DigestAlgorithm, p.Content)
		if err != nil {
			errs.Add(field, "digest failed")
			continue
		}

		files = append(files, models.FileEntry{
			FieldName:         field,
			DeclaredExtension: ext,
			VerifiedType:      typ,
			SizeBytes:         size,
			Digest:            sum,
			ArchivePath:       archive.ArchivePath(form, field, i+1, typ),
			Content:           p.Content,
		})
	}

	if total > s.packager.MaxTotalBytes {
		errs.Add("files", "submission exceeds the %d byte total limit", s.packager.MaxTotalBytes)
	}
	for _, ff := range form.Files {
		if _, ok := seen[ff.Name]; ff.Required && !ok {
			errs.Add(ff.Name, "required file missing")
		}
	}
	return files, errs
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, classify.ErrEmpty):
		return "file is empty"
	case errors.Is(err, classify.ErrSignatureMismatch):
		return "file content does not match its declared type"
	case errors.Is(err, classify.ErrCorrupt):
		return "file is corrupt or truncated"
	default:
		return "file type is not supported"
	}
}

func stripContent(files []models.FileEntry) []models.FileEntry {
	out := make([]models.FileEntry, len(files))
	for i, f := range files {
		f.Content = nil
		out[i] = f
	}
	return out
}

func nonEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
