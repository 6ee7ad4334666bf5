package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/financik-backend/internal/domain"
)

type storedTransaction struct {
	tx  *domain.Transaction
	seq uint64
}

// Store is an in-memory implementation of domain.Store.
// It is safe for concurrent use and honours the same version protocol as the SQL stores.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]*domain.Account
	transactions map[string]*storedTransaction // keyed by transaction ID
	categories   map[string]map[string]struct{}
	seq          uint64

	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for RecordedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store
func NewStore(opts ...Option) *Store {
	s := &Store{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*storedTransaction),
		categories:   make(map[string]map[string]struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount creates a new account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.accounts[account.ID] = &stored
	return nil
}

// GetAccount retrieves an account by its ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "account", ID: id}
	}
	c := *account
	return &c, nil
}

// CreateTransaction stores tx as Posted and assigns its ID and RecordedAt
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[tx.AccountID]; !ok {
		return "", &domain.NotFoundError{Entity: "account", ID: tx.AccountID}
	}

	stored := tx.Clone()
	stored.ID = uuid.NewString()
	stored.RecordedAt = s.now().UTC()
	stored.State = domain.StatePosted

	s.seq++
	s.transactions[stored.ID] = &storedTransaction{tx: stored, seq: s.seq}

	tx.ID = stored.ID
	tx.RecordedAt = stored.RecordedAt
	tx.State = stored.State
	return stored.ID, nil
}

// GetTransaction retrieves a transaction of an account
func (s *Store) GetTransaction(ctx context.Context, accountID, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.transactions[id]
	if !ok || st.tx.AccountID != accountID {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	return st.tx.Clone(), nil
}

// DeleteTransaction removes a transaction of an account
func (s *Store) DeleteTransaction(ctx context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.transactions[id]
	if !ok || st.tx.AccountID != accountID {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	delete(s.transactions, id)
	return nil
}

// ReadBalance returns the balance of an account and its version
func (s *Store) ReadBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	return domain.Balance{AccountID: accountID, Amount: account.Balance, Version: account.Version}, nil
}

// WriteBalanceIfVersion writes the balance when the version still matches
func (s *Store) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[w.AccountID]
	if !ok {
		return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: w.AccountID}
	}
	if account.Version != w.ExpectedVersion {
		return domain.Balance{}, domain.ErrVersionConflict
	}

	var st *storedTransaction
	if w.TransactionID != "" {
		st, ok = s.transactions[w.TransactionID]
		if !ok || st.tx.AccountID != w.AccountID {
			return domain.Balance{}, &domain.NotFoundError{Entity: "transaction", ID: w.TransactionID}
		}
		if st.tx.State != w.FromState {
			return domain.Balance{}, domain.ErrStateConflict
		}
	}

	account.Balance = w.Amount
	account.Version++
	if st != nil {
		st.tx.State = w.ToState
	}
	return domain.Balance{AccountID: w.AccountID, Amount: account.Balance, Version: account.Version}, nil
}

// QueryTransactions returns matching transactions, newest first
func (s *Store) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*storedTransaction, 0)
	for _, st := range s.transactions {
		if q.Matches(st.tx) {
			matched = append(matched, st)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.tx.RecordedAt.Equal(b.tx.RecordedAt) {
			return a.tx.RecordedAt.After(b.tx.RecordedAt)
		}
		return a.seq > b.seq
	})

	result := make([]*domain.Transaction, len(matched))
	for i, st := range matched {
		result[i] = st.tx.Clone()
	}
	return result, nil
}

// ListUnsettled returns Posted and Retracting transactions, oldest first
func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*storedTransaction, 0)
	for _, st := range s.transactions {
		if st.tx.State == domain.StatePosted || st.tx.State == domain.StateRetracting {
			pending = append(pending, st)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]*domain.Transaction, len(pending))
	for i, st := range pending {
		result[i] = st.tx.Clone()
	}
	return result, nil
}

// AddCategory stores a category name for an account
func (s *Store) AddCategory(ctx context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, ok := s.categories[category.AccountID]
	if !ok {
		names = make(map[string]struct{})
		s.categories[category.AccountID] = names
	}
	names[category.Name] = struct{}{}
	return nil
}

// ListCategories returns the sorted category names of an account
func (s *Store) ListCategories(ctx context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.categories[accountID]))
	for name := range s.categories[accountID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Compile-time check: ensure Store implements domain.Store
var _ domain.Store = (*Store)(nil)
