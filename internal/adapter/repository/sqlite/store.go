package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/simaogato/financik-backend/internal/domain"
)

// Store is a domain.Store on a local SQLite file
// Amounts are stored as integer cents and dates as yyyy-mm-dd text, so both sort correctly.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the database at dbPath and migrates it
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; conditional writes then fail on version, never on SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateAccount creates a new account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	createdAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, balance_cents, version, created_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (id) DO NOTHING`,
		account.ID, account.Name, account.Balance.Cents(), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyExists
	}
	account.CreatedAt = createdAt
	return nil
}

// GetAccount retrieves an account by its ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, balance_cents, version, created_at FROM accounts WHERE id = ?`, id).
		Scan(&account.ID, &account.Name, &account.Balance, &account.Version, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "account", ID: id}
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	account.CreatedAt = time.Unix(0, createdAt).UTC()
	return &account, nil
}

// CreateTransaction stores tx as Posted and assigns its ID and RecordedAt
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	id := uuid.NewString()
	recordedAt := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, kind, amount_cents, category, title, occurred_on, recorded_at, state)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM accounts WHERE id = ?)`,
		id, tx.AccountID, string(tx.Kind), tx.Amount.Cents(), tx.Category, tx.Title,
		tx.OccurredOn.ISO(), recordedAt.UnixNano(), string(domain.StatePosted),
		tx.AccountID)
	if err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}
	if n == 0 {
		return "", &domain.NotFoundError{Entity: "account", ID: tx.AccountID}
	}

	tx.ID = id
	tx.RecordedAt = recordedAt
	tx.State = domain.StatePosted
	return id, nil
}

const transactionColumns = `id, account_id, kind, amount_cents, category, title, occurred_on, recorded_at, state`

// GetTransaction retrieves a transaction of an account
func (s *Store) GetTransaction(ctx context.Context, accountID, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND account_id = ?`, id, accountID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// DeleteTransaction removes a transaction of an account
func (s *Store) DeleteTransaction(ctx context.Context, accountID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	return nil
}

// ReadBalance returns the balance of an account and its version
func (s *Store) ReadBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	b := domain.Balance{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `SELECT balance_cents, version FROM accounts WHERE id = ?`, accountID).
		Scan(&b.Amount, &b.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: accountID}
		}
		return domain.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return b, nil
}

// WriteBalanceIfVersion writes the balance when the version still matches,
// moving the named transaction's state in the same database transaction
func (s *Store) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("begin balance write: %w", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = ?, version = version + 1 WHERE id = ? AND version = ?`,
		w.Amount.Cents(), w.AccountID, w.ExpectedVersion)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Balance{}, fmt.Errorf("update balance: %w", err)
	} else if n == 0 {
		found, err := exists(ctx, dbTx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = ?)`, w.AccountID)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("check account: %w", err)
		}
		if !found {
			return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: w.AccountID}
		}
		return domain.Balance{}, domain.ErrVersionConflict
	}

	if w.TransactionID != "" {
		res, err := dbTx.ExecContext(ctx,
			`UPDATE transactions SET state = ? WHERE id = ? AND account_id = ? AND state = ?`,
			string(w.ToState), w.TransactionID, w.AccountID, string(w.FromState))
		if err != nil {
			return domain.Balance{}, fmt.Errorf("update transaction state: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return domain.Balance{}, fmt.Errorf("update transaction state: %w", err)
		} else if n == 0 {
			found, err := exists(ctx, dbTx,
				`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = ? AND account_id = ?)`, w.TransactionID, w.AccountID)
			if err != nil {
				return domain.Balance{}, fmt.Errorf("check transaction: %w", err)
			}
			if !found {
				return domain.Balance{}, &domain.NotFoundError{Entity: "transaction", ID: w.TransactionID}
			}
			return domain.Balance{}, domain.ErrStateConflict
		}
	}

	if err := dbTx.Commit(); err != nil {
		return domain.Balance{}, fmt.Errorf("commit balance write: %w", err)
	}
	return domain.Balance{AccountID: w.AccountID, Amount: w.Amount, Version: w.ExpectedVersion + 1}, nil
}

// exists runs a SELECT EXISTS query; a failed query is an error, never a miss
func exists(ctx context.Context, dbTx *sql.Tx, query string, args ...interface{}) (bool, error) {
	var found bool
	if err := dbTx.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// QueryTransactions returns matching transactions, newest first
func (s *Store) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	states := q.EffectiveStates()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")

	conditions := []string{"account_id = ?", "state IN (" + placeholders + ")"}
	args := []interface{}{q.AccountID}
	for _, st := range states {
		args = append(args, string(st))
	}
	if !q.From.IsZero() {
		conditions = append(conditions, "occurred_on >= ?")
		args = append(args, q.From.ISO())
	}
	if !q.To.IsZero() {
		conditions = append(conditions, "occurred_on <= ?")
		args = append(args, q.To.ISO())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY recorded_at DESC, seq DESC`
	return s.list(ctx, query, args...)
}

// ListUnsettled returns Posted and Retracting transactions, oldest first
func (s *Store) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.list(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE state IN (?, ?) ORDER BY seq LIMIT ?`,
		string(domain.StatePosted), string(domain.StateRetracting), limit)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var kind, state, occurredOn string
	var recordedAt int64

	if err := row.Scan(&tx.ID, &tx.AccountID, &kind, &tx.Amount, &tx.Category, &tx.Title,
		&occurredOn, &recordedAt, &state); err != nil {
		return nil, err
	}

	date, err := domain.ParseISODate(occurredOn)
	if err != nil {
		return nil, err
	}
	tx.Kind = domain.Kind(kind)
	tx.State = domain.TransactionState(state)
	tx.OccurredOn = date
	tx.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &tx, nil
}

// AddCategory stores a category; existing names are ignored
func (s *Store) AddCategory(ctx context.Context, category domain.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (account_id, name) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		category.AccountID, category.Name)
	if err != nil {
		return fmt.Errorf("add category: %w", err)
	}
	return nil
}

// ListCategories returns the category names of an account in name order
func (s *Store) ListCategories(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM categories WHERE account_id = ? ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

var _ domain.Store = (*Store)(nil)
