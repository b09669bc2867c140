package processor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/digest"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/queue"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

const subID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

var (
	createdAt = time.Date(2025, 7, 14, 18, 30, 0, 0, time.UTC)
	processAt = time.Date(2025, 7, 14, 18, 45, 0, 0, time.UTC)
	srcLoc    = storage.Location{Bucket: "intake", Key: "uploads/2025/07/14/" + subID + ".zip"}
	fastRetry = storage.RetryPolicy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond}
)

type env struct {
	store     *storage.MemoryStore
	ledger    *ledger.MemoryRepository
	publisher *queue.MemoryPublisher
	proc      *Processor
}

func newEnv(t *testing.T, provider scan.Provider, opts Options) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	repo := ledger.NewMemoryRepository()
	q := scan.NewQuarantine(store, "quarantine", "quarantine", fastRetry, logging.Discard())
	tracker := scan.NewTracker(store, repo, q, provider, time.Millisecond, logging.Discard())
	pub := queue.NewMemoryPublisher()

	if opts.Bucket == "" {
		opts.Bucket = "processed"
	}
	opts.Retry = fastRetry
	p := New(opts, store, tracker, pub, logging.Discard())
	p.now = func() time.Time { return processAt }

	return &env{store: store, ledger: repo, publisher: pub, proc: p}
}

func file(field, archivePath string, t models.VerifiedType, content []byte) models.FileEntry {
	sum, _ := digest.Bytes(digest.SHA256, content)
	return models.FileEntry{
		FieldName:    field,
		VerifiedType: t,
		SizeBytes:    int64(len(content)),
		Digest:       sum,
		ArchivePath:  archivePath,
		Content:      content,
	}
}

func testSubmission() *models.Submission {
	return &models.Submission{
		ID:              subID,
		CreatedAt:       createdAt,
		SourceForm:      "generic",
		Tags:            map[string]string{"submission-id": subID, "source-form": "generic"},
		DigestAlgorithm: digest.SHA256,
		ScanProvider:    "guardduty",
		Files: []models.FileEntry{
			file("report", "files/file-001.pdf", models.TypePDF, []byte("%PDF-1.4\n%%EOF\n")),
			file("notes", "files/file-002.txt", models.TypeText, []byte("meeting notes\n")),
		},
	}
}

// seed packs sub and stores it as the intake bucket would, with the given
// scanner verdict tag (empty for none yet).
func (e *env) seed(t *testing.T, sub *models.Submission, verdict string) *archive.Package {
	t.Helper()
	pkg, err := archive.NewPackager(0, 0).Pack(sub)
	require.NoError(t, err)
	e.put(t, pkg.Archive, pkg.ArchiveDigest, verdict)
	require.NoError(t, e.ledger.Create(context.Background(), &ledger.Record{
		SubmissionID:  sub.ID,
		Location:      srcLoc,
		SourceForm:    sub.SourceForm,
		ArchiveDigest: pkg.ArchiveDigest,
		CreatedAt:     sub.CreatedAt,
		Scan:          pkg.Manifest.Scan,
	}))
	return pkg
}

func (e *env) put(t *testing.T, body []byte, archiveDigest, verdict string) {
	t.Helper()
	tags := map[string]string{"scan-status": "pending", "source-form": "generic"}
	if verdict != "" {
		tags[scan.GuardDutyTag] = verdict
	}
	meta := map[string]string{"submission-id": subID, "source-form": "generic"}
	if archiveDigest != "" {
		meta["archive-digest"] = archiveDigest
	}
	require.NoError(t, e.store.Put(context.Background(), storage.PutInput{
		Location:    srcLoc,
		Body:        body,
		ContentType: "application/zip",
		Metadata:    meta,
		Tags:        tags,
	}))
}

func event() models.QueueEvent {
	return models.QueueEvent{EventID: "e1", Bucket: srcLoc.Bucket, ObjectKey: srcLoc.Key, DeliveryAttempt: 1}
}

func rawZip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
