package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/awsx"
	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/dbx"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

var (
	openDB        = dbx.Open
	runMigrations = ledger.RunMigrations

	newS3Store = func(ctx context.Context, s awsx.Settings) (storage.Store, error) {
		client, err := awsx.NewS3Client(ctx, s)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client), nil
	}
)

var poolOptions = dbx.PoolOptions{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute}

// AWSManager keeps objects in S3 and the ledger in PostgreSQL.
type AWSManager struct {
	db     *sql.DB
	store  storage.Store
	ledger *ledger.PostgresRepository
}

func NewAWSManager(ctx context.Context, cfg *config.Config) (*AWSManager, error) {
	store, err := newS3Store(ctx, cfg.AWS())
	if err != nil {
		return nil, fmt.Errorf("s3 client init error: %w", err)
	}

	db, err := openDB(ctx, "pgx", cfg.DatabaseDSN, poolOptions)
	if err != nil {
		return nil, err
	}

	return &AWSManager{db: db, store: store, ledger: ledger.NewPostgresRepository(db)}, nil
}

func (m *AWSManager) RunMigrations(ctx context.Context) error {
	if err := runMigrations(ctx, m.db); err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	return nil
}

func (m *AWSManager) Store() storage.Store {
	return m.store
}

func (m *AWSManager) Ledger() ledger.Repository {
	return m.ledger
}

func (m *AWSManager) Close() error {
	return m.db.Close()
}
