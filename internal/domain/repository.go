package domain

import (
	"context"
)

// LedgerStore defines the persistence boundary of the ledger
type LedgerStore interface {
	// CreateTransaction persists tx in StatePosted and returns the assigned ID
	// The store also assigns RecordedAt
	CreateTransaction(ctx context.Context, tx *Transaction) (string, error)

	// GetTransaction retrieves one transaction; ErrNotFound if absent
	GetTransaction(ctx context.Context, accountID, id string) (*Transaction, error)

	// DeleteTransaction removes a transaction; ErrNotFound if absent
	DeleteTransaction(ctx context.Context, accountID, id string) error

	// ReadBalance returns the balance and its version token; ErrNotFound if the account is unknown
	ReadBalance(ctx context.Context, accountID string) (Balance, error)

	// WriteBalanceIfVersion writes the balance only if its version still equals
	// w.ExpectedVersion, returning ErrVersionConflict otherwise.
	// When w.TransactionID is set the transaction state moves in the same atomic write;
	// ErrStateConflict if it is not in w.FromState.
	WriteBalanceIfVersion(ctx context.Context, w BalanceWrite) (Balance, error)

	// QueryTransactions returns matching transactions ordered by RecordedAt, newest first
	QueryTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error)

	// ListUnsettled returns up to limit transactions in StatePosted or StateRetracting,
	// across all accounts, oldest first
	ListUnsettled(ctx context.Context, limit int) ([]*Transaction, error)
}

// AccountRepository defines the interface for account persistence operations
type AccountRepository interface {
	// CreateAccount creates an account; ErrAlreadyExists if the ID is taken
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount retrieves an account by ID; ErrNotFound if absent
	GetAccount(ctx context.Context, id string) (*Account, error)
}

// CategoryRepository defines the interface for category persistence operations
type CategoryRepository interface {
	// AddCategory stores a category; adding an existing name is a no-op
	AddCategory(ctx context.Context, category Category) error

	// ListCategories returns the distinct category names of an account, sorted
	ListCategories(ctx context.Context, accountID string) ([]string, error)
}

// Store is everything a backend provides
type Store interface {
	LedgerStore
	AccountRepository
	CategoryRepository
	Close() error
}

// BalanceCache keeps the last known balance per account
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (Money, bool)
	Set(ctx context.Context, accountID string, amount Money)
}

// EventPublisher emits ledger events to interested consumers
type EventPublisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}
