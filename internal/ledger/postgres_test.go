package ledger

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var (
	t0      = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	testLoc = storage.Location{Bucket: "intake", Key: "uploads/2025/02/03/9b2d.zip"}
	columns = []string{"id", "bucket", "object_key", "source_form", "archive_digest", "created_at",
		"scan_status", "scan_provider", "scan_requested_at", "scan_completed_at", "scan_details"}
)

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+submissions\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8,\s*\$9\)\s*$`
	mock.ExpectExec(q).
		WithArgs("9b2d", "intake", testLoc.Key, "generic", "abc", t0, "pending", "guardduty", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &Record{
		SubmissionID:  "9b2d",
		Location:      testLoc,
		SourceForm:    "generic",
		ArchiveDigest: "abc",
		CreatedAt:     t0,
		Scan:          models.ScanRecord{Status: models.ScanPending, Provider: "guardduty", RequestedAt: t0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+submissions`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &Record{SubmissionID: "x", Scan: models.ScanRecord{Status: models.ScanPending}})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGet_FoundAndNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	done := t0.Add(time.Minute)
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+submissions\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("9b2d").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("9b2d", "intake", testLoc.Key, "generic", "abc", t0, "clean", "guardduty", t0, done, "NO_THREATS_FOUND"))

	rec, err := repo.Get(context.Background(), "9b2d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Scan.Status != models.ScanClean || rec.Scan.CompletedAt == nil || !rec.Scan.CompletedAt.Equal(done) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Location != testLoc {
		t.Fatalf("unexpected location: %+v", rec.Location)
	}

	mock.ExpectQuery(`FROM\s+submissions\s+WHERE\s+bucket\s*=\s*\$1\s+AND\s+object_key\s*=\s*\$2`).
		WithArgs("intake", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByLocation(context.Background(), storage.Location{Bucket: "intake", Key: "missing"})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want common.ErrNotFound, got %v", err)
	}
}

func TestMarkScan_AppliesOnce(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	update := `(?s)UPDATE\s+submissions\s+SET\s+scan_status\s*=\s*\$2.*WHERE\s+id\s*=\s*\$1\s+AND\s+scan_status\s*=\s*'pending'`
	insert := `(?s)INSERT\s+INTO\s+scan_events\b`

	mock.ExpectBegin()
	mock.ExpectExec(update).WithArgs("9b2d", "malicious", t0, "EICAR").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).WithArgs("9b2d", "malicious", "EICAR", t0).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := repo.MarkScan(context.Background(), "9b2d", models.ScanMalicious, t0, "EICAR")
	if err != nil || !applied {
		t.Fatalf("want applied, got %v %v", applied, err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err = repo.MarkScan(context.Background(), "9b2d", models.ScanClean, t0, "")
	if err != nil || applied {
		t.Fatalf("second transition must not apply, got %v %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkScan_RollsBackOnError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE\s+submissions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT\s+INTO\s+scan_events`).WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	if _, err := repo.MarkScan(context.Background(), "9b2d", models.ScanClean, t0, ""); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkScan_RejectsPendingTarget(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.MarkScan(context.Background(), "9b2d", models.ScanPending, t0, "")
	if !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestListPending(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)WHERE\s+scan_status\s*=\s*'pending'\s+AND\s+scan_requested_at\s*<\s*\$1.*LIMIT\s+\$2`).
		WithArgs(t0, 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a", "intake", "k1", "generic", "d1", t0, "pending", "guardduty", t0.Add(-time.Hour), nil, "").
			AddRow("b", "intake", "k2", "generic", "d2", t0, "pending", "guardduty", t0.Add(-time.Minute), nil, ""))

	recs, err := repo.ListPending(context.Background(), t0, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 || recs[0].SubmissionID != "a" || recs[0].Scan.CompletedAt != nil {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*DELETE\s+FROM\s+submissions\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("9b2d").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "9b2d"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	if err := RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}
