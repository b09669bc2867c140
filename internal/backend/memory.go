package backend

import (
	"context"

	"github.com/dmitrijs2005/intakevault/internal/ledger"
	"github.com/dmitrijs2005/intakevault/internal/storage"
)

type InMemoryManager struct {
	store  storage.Store
	ledger *ledger.MemoryRepository
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{store: storage.NewMemoryStore(), ledger: ledger.NewMemoryRepository()}
}

// Wrap replaces the store with wrap(current store).
func (m *InMemoryManager) Wrap(wrap func(storage.Store) storage.Store) {
	m.store = wrap(m.store)
}

func (m *InMemoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *InMemoryManager) Store() storage.Store {
	return m.store
}

func (m *InMemoryManager) Ledger() ledger.Repository {
	return m.ledger
}

func (m *InMemoryManager) Close() error {
	return nil
}
