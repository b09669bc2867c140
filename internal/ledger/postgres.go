package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/dbx"
	"github.com/dmitrijs2005/intakevault/internal/ledger/migrations"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

var gooseUpContext = goose.UpContext

// RunMigrations applies the embedded schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// PostgresRepository stores the ledger in PostgreSQL through pgx.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, bucket, object_key, source_form, archive_digest, created_at,
		       scan_status, scan_provider, scan_requested_at, scan_completed_at, scan_details`

func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO submissions (id, bucket, object_key, source_form, archive_digest, created_at,
		                         scan_status, scan_provider, scan_requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.SubmissionID, rec.Location.Bucket, rec.Location.Key, rec.SourceForm, rec.ArchiveDigest,
		rec.CreatedAt.UTC(), string(rec.Scan.Status), rec.Scan.Provider, rec.Scan.RequestedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, submissionID string) error {
	query := `
		DELETE FROM submissions
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, submissionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&rec.SubmissionID, &rec.Location.Bucket, &rec.Location.Key, &rec.SourceForm,
		&rec.ArchiveDigest, &rec.CreatedAt, &status, &rec.Scan.Provider, &rec.Scan.RequestedAt,
		&completed, &rec.Scan.Details)
	if err != nil {
		return nil, err
	}
	rec.Scan.Status = models.ScanStatus(status)
	if completed.Valid {
		t := completed.Time.UTC()
		rec.Scan.CompletedAt = &t
	}
	return &rec, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Get(ctx context.Context, submissionID string) (*Record, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM submissions WHERE id = $1`, submissionID)
}

func (r *PostgresRepository) FindByLocation(ctx context.Context, loc storage.Location) (*Record, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM submissions WHERE bucket = $1 AND object_key = $2`, loc.Bucket, loc.Key)
}

func (r *PostgresRepository) MarkScan(ctx context.Context, submissionID string, status models.ScanStatus, at time.Time, details string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: pending -> %s", common.ErrInvalidTransition, status)
	}
	details = models.TruncateBytes(details, models.MaxScanDetails)

	applied := false
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET scan_status = $2, scan_completed_at = $3, scan_details = $4
			WHERE id = $1 AND scan_status = 'pending'
		`, submissionID, string(status), at.UTC(), details)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		applied = true

		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_events (submission_id, status, details, recorded_at)
			VALUES ($1, $2, $3, $4)
		`, submissionID, string(status), details, at.UTC())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied, nil
}

func (r *PostgresRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM submissions
		WHERE scan_status = 'pending' AND scan_requested_at < $1
		ORDER BY scan_requested_at
		LIMIT $2`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
