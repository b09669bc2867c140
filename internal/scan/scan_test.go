package scan

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/logging"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

var fastRetry = storage.RetryPolicy{Attempts: 2, Base: time.Millisecond}

type fixture struct {
	store   *storage.MemoryStore
	ledger  *ledger.MemoryRepository
	tracker *Tracker
	loc     storage.Location
}

func newFixture(t *testing.T, provider Provider) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemoryStore(),
		ledger: ledger.NewMemoryRepository(),
		loc:    storage.Location{Bucket: "intake", Key: "uploads/2025/04/01/6c1d.zip"},
	}
	q := NewQuarantine(f.store, "quarantine", "quarantine", fastRetry, logging.Discard())
	f.tracker = NewTracker(f.store, f.ledger, q, provider, 5*time.Millisecond, logging.Discard())

	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, storage.PutInput{
		Location:    f.loc,
		Body:        []byte("PK archive"),
		ContentType: "application/zip",
		Metadata:    map[string]string{"submission-id": "6c1d", "source-form": "generic"},
		Tags:        map[string]string{"scan-status": "pending", "source-form": "generic"},
	}))
	require.NoError(t, f.ledger.Create(ctx, &ledger.Record{
		SubmissionID: "6c1d",
		Location:     f.loc,
		SourceForm:   "generic",
		CreatedAt:    time.Now().Add(-time.Minute),
		Scan:         models.ScanRecord{Status: models.ScanPending, Provider: string(provider), RequestedAt: time.Now().Add(-time.Minute)},
	}))
	return f
}

func (f *fixture) setVerdict(t *testing.T, key, value string) {
	t.Helper()
	ctx := context.Background()
	tags, err := f.store.GetTags(ctx, f.loc)
	require.NoError(t, err)
	tags[key] = value
	require.NoError(t, f.store.SetTags(ctx, f.loc, tags))
}

func (f *fixture) ledgerStatus(t *testing.T) models.ScanStatus {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), "6c1d")
	require.NoError(t, err)
	return rec.Scan.Status
}

func TestCheck_PendingWithoutVerdict(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)

	res, err := f.tracker.Check(context.Background(), f.loc)
	require.NoError(t, err)
	assert.Equal(t, models.ScanPending, res.Status)
	assert.Equal(t, VerdictPending, res.Verdict())
	assert.Equal(t, models.ScanPending, f.ledgerStatus(t))
}

func TestCheck_CleanIsRecordedAndSticky(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)
	f.setVerdict(t, GuardDutyTag, "NO_THREATS_FOUND")

	res, err := f.tracker.Check(context.Background(), f.loc)
	require.NoError(t, err)
	assert.Equal(t, VerdictClean, res.Verdict())
	assert.Equal(t, models.ScanClean, f.ledgerStatus(t))

	tags, err := f.store.GetTags(context.Background(), f.loc)
	require.NoError(t, err)
	assert.Equal(t, "clean", tags[StatusTag])
	assert.Equal(t, "NO_THREATS_FOUND", tags[GuardDutyTag], "oracle tag preserved")

	// A later contradicting verdict never moves a terminal state.
	f.setVerdict(t, GuardDutyTag, "THREATS_FOUND")
	res, err = f.tracker.Check(context.Background(), f.loc)
	require.NoError(t, err)
	assert.Equal(t, models.ScanClean, res.Status)
	assert.Equal(t, models.ScanClean, f.ledgerStatus(t))
}

func TestCheck_MaliciousIsQuarantined(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)
	f.setVerdict(t, GuardDutyTag, "THREATS_FOUND")
	ctx := context.Background()

	res, err := f.tracker.Check(ctx, f.loc)
	require.NoError(t, err)
	assert.Equal(t, VerdictUnsafe, res.Verdict())
	assert.True(t, res.Quarantined)

	assert.Empty(t, f.store.Keys("intake"), "original removed")
	require.Equal(t, []string{"quarantine/" + f.loc.Key}, f.store.Keys("quarantine"))

	dst := storage.Location{Bucket: "quarantine", Key: "quarantine/" + f.loc.Key}
	info, err := f.store.Head(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "malicious", info.Metadata["quarantined-reason"])
	assert.Equal(t, "intake", info.Metadata["original-bucket"])
	assert.Equal(t, f.loc.Key, info.Metadata["original-key"])
	assert.Equal(t, "THREATS_FOUND", info.Metadata["scan-details"])
	assert.NotEmpty(t, info.Metadata["quarantined-at"])

	tags, err := f.store.GetTags(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "true", tags["quarantined"])
	assert.Equal(t, "malicious", tags["scan-status"])

	// The object is gone; the ledger still answers.
	res, err = f.tracker.Check(ctx, f.loc)
	require.NoError(t, err)
	assert.Equal(t, models.ScanMalicious, res.Status)
	assert.True(t, res.Quarantined)
}

func TestCheck_QuarantineOntoSourceKeepsArchive(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)
	q := NewQuarantine(f.store, "intake", "", fastRetry, logging.Discard())
	f.tracker = NewTracker(f.store, f.ledger, q, ProviderGuardDuty, 5*time.Millisecond, logging.Discard())
	f.setVerdict(t, GuardDutyTag, "THREATS_FOUND")
	ctx := context.Background()

	res, err := f.tracker.Check(ctx, f.loc)
	require.ErrorIs(t, err, ErrSameLocation)
	assert.False(t, res.Quarantined)
	assert.Equal(t, []string{f.loc.Key}, f.store.Keys("intake"), "archive must survive")

	_, err = q.Isolate(ctx, f.loc, "THREATS_FOUND")
	require.ErrorIs(t, err, ErrSameLocation)
	_, err = f.store.Head(ctx, f.loc)
	assert.NoError(t, err)
}

func TestCheck_ConcurrentMaliciousQuarantinesOnce(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)
	f.setVerdict(t, GuardDutyTag, "THREATS_FOUND")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.tracker.Check(context.Background(), f.loc)
			assert.NoError(t, err)
			assert.Equal(t, models.ScanMalicious, res.Status)
		}()
	}
	wg.Wait()

	assert.Empty(t, f.store.Keys("intake"))
	assert.Len(t, f.store.Keys("quarantine"), 1)
	assert.Equal(t, models.ScanMalicious, f.ledgerStatus(t))
}

func TestCheck_ResumesInterruptedQuarantine(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)
	ctx := context.Background()

	// Status recorded but the move never happened.
	_, err := f.ledger.MarkScan(ctx, "6c1d", models.ScanMalicious, time.Now(), "THREATS_FOUND")
	require.NoError(t, err)
	require.NoError(t, f.store.SetTags(ctx, f.loc, map[string]string{StatusTag: "malicious", GuardDutyTag: "THREATS_FOUND"}))

	res, err := f.tracker.Check(ctx, f.loc)
	require.NoError(t, err)
	assert.True(t, res.Quarantined)
	assert.Empty(t, f.store.Keys("intake"))
	assert.Len(t, f.store.Keys("quarantine"), 1)
}

func TestCheck_Providers(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		key      string
		value    string
		want     models.ScanStatus
	}{
		{"guardduty unsupported fails closed", ProviderGuardDuty, GuardDutyTag, "UNSUPPORTED", models.ScanError},
		{"guardduty access denied", ProviderGuardDuty, GuardDutyTag, "ACCESS_DENIED", models.ScanError},
		{"defender clean", ProviderDefender, DefenderTag, "No threats found", models.ScanClean},
		{"defender malicious", ProviderDefender, DefenderTag, "Malicious", models.ScanMalicious},
		{"defender not yet", ProviderDefender, DefenderTag, "No scan result", models.ScanPending},
		{"defender unknown", ProviderDefender, DefenderTag, "Scan aborted", models.ScanError},
		{"disabled oracle", ProviderNone, "", "", models.ScanNoScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.provider)
			if tt.key != "" {
				f.setVerdict(t, tt.key, tt.value)
			}
			res, err := f.tracker.Check(context.Background(), f.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			if tt.want != models.ScanClean {
				assert.NotEqual(t, VerdictClean, res.Verdict())
			}
		})
	}
}

func TestAwait(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = f.store.SetTags(context.Background(), f.loc, map[string]string{
			StatusTag:    "pending",
			GuardDutyTag: "NO_THREATS_FOUND",
		})
	}()

	res, err := f.tracker.Await(context.Background(), f.loc, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.ScanClean, res.Status)
}

func TestAwait_TimeoutReturnsPending(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)

	start := time.Now()
	res, err := f.tracker.Await(context.Background(), f.loc, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ScanPending, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, ProviderGuardDuty)

	var buf bytes.Buffer
	s := NewSweeper(f.tracker, f.ledger, time.Hour, time.Second, 10, logging.NewJSONLogger(&buf, "debug"))

	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Contains(t, buf.String(), "scan overdue")

	f.setVerdict(t, GuardDutyTag, "NO_THREATS_FOUND")
	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.Equal(t, models.ScanClean, f.ledgerStatus(t))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, ProviderNone)
	s := NewSweeper(f.tracker, f.ledger, 5*time.Millisecond, 0, 10, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.ledgerStatus(t) == models.ScanNoScan }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("GuardDuty")
	require.NoError(t, err)
	assert.Equal(t, ProviderGuardDuty, p)

	p, err = ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, p)

	_, err = ParseProvider("clamav")
	assert.Error(t, err)
}
