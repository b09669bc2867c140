package intake

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/intakevault/internal/archive"
	"github.com/dmitrijs2005/intakevault/internal/classify"
	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
	"github.com/dmitrijs2005/intakevault/internal/validate"
)

var (
	pdfBytes  = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n%%EOF\n")
	fixedNow  = time.Date(2025, 7, 14, 18, 30, 0, 0, time.UTC)
	fastRetry = storage.RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}
)

var testForms = map[string]models.Form{
	"generic": {ID: "generic", Open: true},
	"upload-project-artifacts": {
		ID: "upload-project-artifacts",
		Files: []models.FileField{
			{Name: "architectureDiagram", ArchiveName: "architecture-diagram", Types: []models.VerifiedType{models.TypePDF}, Required: true},
			{Name: "charter", ArchiveName: "charter", Types: []models.VerifiedType{models.TypeDOCX}, Required: true},
		},
		RequiredTags: []string{"project"},
	},
}

func docxBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "word/document.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("<xml/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// flakyStore fails the first n puts with a transient error.
type flakyStore struct {
	*storage.MemoryStore
	mu    sync.Mutex
	fails int
	puts  int
}

func (s *flakyStore) Put(ctx context.Context, in storage.PutInput) error {
	s.mu.Lock()
	s.puts++
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return common.ErrTransientStore
	}
	return s.MemoryStore.Put(ctx, in)
}

// scannedStore tags every stored object with a GuardDuty verdict right away.
type scannedStore struct {
	*storage.MemoryStore
	verdict string
}

func (s *scannedStore) Put(ctx context.Context, in storage.PutInput) error {
	tags := map[string]string{scan.GuardDutyTag: s.verdict}
	for k, v := range in.Tags {
		tags[k] = v
	}
	in.Tags = tags
	return s.MemoryStore.Put(ctx, in)
}

type harness struct {
	svc    *Service
	ledger *ledger.MemoryRepository
}

func newHarness(t *testing.T, store storage.Store, opts Options, tracker *scan.Tracker) *harness {
	t.Helper()
	if opts.Forms == nil {
		opts.Forms = testForms
	}
	if opts.DefaultForm == "" {
		opts.DefaultForm = "generic"
	}
	repo := ledger.NewMemoryRepository()
	svc := NewService(opts,
		classify.New(false),
		validate.NewTagValidator(validate.NewReservedKeys(validate.DefaultReservedKeys), validate.DefaultMaxTags),
		archive.NewPackager(0, 0),
		NewWriter(store, "intake", "", DefaultIndexedTags, 0, fastRetry),
		repo,
		tracker,
		logging.Discard(),
	)
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }
	return &harness{svc: svc, ledger: repo}
}

func projectRequest(t *testing.T) Request {
	return Request{
		FormID:            "upload-project-artifacts",
		SubmitterIdentity: "pat@example.org",
		Tags:              map[string]string{"project": "Apollo Moon", "environment": "prod"},
		Files: []FilePart{
			{Field: "architectureDiagram", Filename: "Diagram v2.PDF", Content: pdfBytes},
			{Field: "charter", Filename: "charter.docx", Content: docxBytes(t)},
		},
	}
}
