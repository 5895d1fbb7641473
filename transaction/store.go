package transaction

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrDuplicate is returned by Save when a transaction with the same ID
	// is already stored.
	ErrDuplicate = errors.New("transaction already exists")
)

// Store persists finished transactions. Implementations must be safe for
// concurrent writers.
type Store interface {
	FindAll(ctx context.Context) ([]Transaction, error)
	// FindByID returns (nil, nil) when no transaction has the ID.
	FindByID(ctx context.Context, id string) (*Transaction, error)
	Save(ctx context.Context, tx Transaction) (Transaction, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	txs *xsync.MapOf[string, Transaction]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: xsync.NewMapOf[string, Transaction]()}
}

// FindAll returns every stored transaction ordered by ID.
func (m *MemoryStore) FindAll(ctx context.Context) ([]Transaction, error) {
	out := make([]Transaction, 0, m.txs.Size())
	m.txs.Range(func(_ string, tx Transaction) bool {
		out = append(out, tx)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindByID returns the transaction with the given ID, or nil.
func (m *MemoryStore) FindByID(ctx context.Context, id string) (*Transaction, error) {
	tx, ok := m.txs.Load(id)
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

// Save stores tx. Stored transactions are never overwritten.
func (m *MemoryStore) Save(ctx context.Context, tx Transaction) (Transaction, error) {
	if _, loaded := m.txs.LoadOrStore(tx.ID, tx); loaded {
		return Transaction{}, fmt.Errorf("save %s: %w", tx.ID, ErrDuplicate)
	}
	return tx, nil
}

// Delete removes the transaction with the given ID and reports whether it
// existed.
func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	_, existed := m.txs.LoadAndDelete(id)
	return existed, nil
}

// Service is the read/write façade used by the HTTP layer and the saga.
type Service struct {
	store Store
}

// NewService wraps a Store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) GetAll(ctx context.Context) ([]Transaction, error) {
	return s.store.FindAll(ctx)
}

func (s *Service) GetByID(ctx context.Context, id string) (*Transaction, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, tx Transaction) (Transaction, error) {
	return s.store.Save(ctx, tx)
}

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}
