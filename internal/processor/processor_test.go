package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/scan"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

var wantKeys = []string{
	"processed/" + subID + "/file-001.pdf",
	"processed/" + subID + "/file-002.txt",
	"processed/" + subID + "/manifest.json",
}

func TestProcess_CleanArchive(t *testing.T) {
	e := newEnv(t, scan.ProviderGuardDuty, Options{})
	e.seed(t, testSubmission(), "NO_THREATS_FOUND")
	ctx := context.Background()

	require.NoError(t, e.proc.Process(ctx, event()))

	assert.Equal(t, wantKeys, e.store.Keys("processed"))

	body, info, err := e.store.Get(ctx, storage.Location{Bucket: "processed", Key: wantKeys[1]})
	require.NoError(t, err)
	assert.Equal(t, "meeting notes\n", string(body))
	assert.Equal(t, "text/plain; charset=utf-8", info.ContentType)
	assert.Equal(t, subID, info.Metadata["submission-id"])
	assert.Equal(t, "text", info.Metadata["verified-type"])
	assert.Equal(t, "clean", info.Metadata["scan-status"])
	assert.Equal(t, "intake/"+srcLoc.Key, info.Metadata["source-location"])

	events := e.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.CompletionEvent{
		EventID:       subID + ".processed",
		SubmissionID:  subID,
		SourceKey:     srcLoc.Key,
		ProcessedKeys: wantKeys,
		FileCount:     2,
		ProcessedAt:   processAt,
		Status:        "processed",
	}, events[0])

	rec, err := e.ledger.Get(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanClean, rec.Scan.Status)
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t, scan.ProviderGuardDuty, Options{})
	e.seed(t, testSubmission(), "NO_THREATS_FOUND")
	ctx := context.Background()

	require.NoError(t, e.proc.Process(ctx, event()))
	first, _, err := e.store.Get(ctx, storage.Location{Bucket: "processed", Key: wantKeys[0]})
	require.NoError(t, err)

	redelivered := event()
	redelivered.DeliveryAttempt = 2
	require.NoError(t, e.proc.Process(ctx, redelivered))

	assert.Equal(t, wantKeys, e.store.Keys("processed"), "no extra objects")
	second, _, err := e.store.Get(ctx, storage.Location{Bucket: "processed", Key: wantKeys[0]})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	events := e.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, events[0].EventID, events[1].EventID, "consumers dedupe on the event id")
}

func TestProcess_ScanGate(t *testing.T) {
	t.Run("pending is transient", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "")

		err := e.proc.Process(context.Background(), event())
		require.True(t, errors.Is(err, common.ErrScanPending))
		assert.False(t, Permanent(err))
		assert.Empty(t, e.store.Keys("processed"))
	})

	t.Run("malicious is permanent and quarantined", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		require.True(t, errors.Is(err, common.ErrUnsafeObject))
		assert.True(t, Permanent(err))
		assert.Empty(t, e.store.Keys("processed"))
		assert.Empty(t, e.store.Keys("intake"))
		assert.Len(t, e.store.Keys("quarantine"), 1)
		assert.Empty(t, e.publisher.Events())
	})

	t.Run("scanner failure is permanent", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "ACCESS_DENIED")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrUnsafeObject))
	})

	t.Run("no_scan blocked unless allowed", func(t *testing.T) {
		e := newEnv(t, scan.ProviderNone, Options{})
		e.seed(t, testSubmission(), "")
		assert.True(t, errors.Is(e.proc.Process(context.Background(), event()), common.ErrUnsafeObject))

		allowed := newEnv(t, scan.ProviderNone, Options{AllowNoScan: true})
		allowed.seed(t, testSubmission(), "")
		require.NoError(t, allowed.proc.Process(context.Background(), event()))
		_, info, err := allowed.store.Get(context.Background(), storage.Location{Bucket: "processed", Key: wantKeys[0]})
		require.NoError(t, err)
		assert.Equal(t, "no_scan", info.Metadata["scan-status"])
	})

	t.Run("missing object is permanent", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		err := e.proc.Process(context.Background(), event())
		assert.True(t, Permanent(err))
	})
}

func TestProcess_SkipsNonZip(t *testing.T) {
	e := newEnv(t, scan.ProviderGuardDuty, Options{})
	ev := event()
	ev.ObjectKey = "uploads/readme.txt"

	require.NoError(t, e.proc.Process(context.Background(), ev))
	assert.Empty(t, e.publisher.Events())
}

func TestProcess_IntegrityFailures(t *testing.T) {
	t.Run("archive digest mismatch", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		pkg := e.seed(t, testSubmission(), "NO_THREATS_FOUND")
		e.put(t, pkg.Archive, "0000", "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrMalformedArchive))
		assert.Empty(t, e.store.Keys("processed"))
	})

	t.Run("member digest mismatch", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		sub := testSubmission()
		sub.Files[1].Digest = "deadbeef"
		e.seed(t, sub, "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrMalformedArchive))
	})

	t.Run("manifest missing", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "NO_THREATS_FOUND")
		e.put(t, rawZip(t, map[string][]byte{"files/file-001.txt": []byte("x")}), "", "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrManifestMissing))
		assert.True(t, Permanent(err))
	})

	t.Run("manifest unreadable", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "NO_THREATS_FOUND")
		e.put(t, rawZip(t, map[string][]byte{models.ManifestName: []byte("{")}), "", "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrManifestMissing))
	})

	t.Run("not a zip", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "NO_THREATS_FOUND")
		e.put(t, []byte("definitely not a zip"), "", "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrMalformedArchive))
	})

	t.Run("traversal member", func(t *testing.T) {
		e := newEnv(t, scan.ProviderGuardDuty, Options{})
		e.seed(t, testSubmission(), "NO_THREATS_FOUND")
		e.put(t, rawZip(t, map[string][]byte{"../evil.sh": []byte("x")}), "", "NO_THREATS_FOUND")

		err := e.proc.Process(context.Background(), event())
		assert.True(t, errors.Is(err, common.ErrMalformedArchive))
	})
}
