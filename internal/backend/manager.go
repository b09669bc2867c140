// Package backend assembles the object store, ledger and scan tracking a
// process runs against, for either the AWS or the in-memory backend.
package backend

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

// Manager owns the store and ledger of one process.
type Manager interface {
	RunMigrations(ctx context.Context) error
	Store() storage.Store
	Ledger() ledger.Repository
	Close() error
}

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg *config.Config) (Manager, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewInMemoryManager(), nil
	case config.BackendAWS:
		return NewAWSManager(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
