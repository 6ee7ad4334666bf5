package postgres

import (
	"github.com/simaogato/financik-backend/internal/domain"
)

// Store bundles the postgres repositories behind domain.Store
type Store struct {
	domain.LedgerStore
	domain.AccountRepository
	domain.CategoryRepository

	db *DB
}

// NewStore creates the repositories over one connection pool
func NewStore(db *DB) *Store {
	return &Store{
		LedgerStore:        NewTransactionRepository(db),
		AccountRepository:  NewAccountRepository(db),
		CategoryRepository: NewCategoryRepository(db),
		db:                 db,
	}
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time check: ensure Store implements domain.Store
var _ domain.Store = (*Store)(nil)
