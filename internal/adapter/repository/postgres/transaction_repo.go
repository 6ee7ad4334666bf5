package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/simaogato/financik-backend/internal/domain"
)

const foreignKeyViolation = "23503"

// transactionRepository implements domain.LedgerStore
type transactionRepository struct {
	db  *DB
	now func() time.Time
}

// NewTransactionRepository creates a new ledger store backed by postgres
func NewTransactionRepository(db *DB) domain.LedgerStore {
	return &transactionRepository{db: db, now: time.Now}
}

const transactionColumns = `id, account_id, kind, amount, category, title, occurred_on, recorded_at, state`

// CreateTransaction inserts tx in state Posted, assigning its ID and RecordedAt
func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	query := `
		INSERT INTO transactions (id, account_id, kind, amount, category, title, occurred_on, recorded_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	id := uuid.NewString()
	recordedAt := r.now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		id,
		tx.AccountID,
		string(tx.Kind),
		tx.Amount,
		tx.Category,
		tx.Title,
		tx.OccurredOn.ISO(),
		recordedAt,
		string(domain.StatePosted),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return "", &domain.NotFoundError{Entity: "account", ID: tx.AccountID}
		}
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}

	tx.ID = id
	tx.RecordedAt = recordedAt
	tx.State = domain.StatePosted
	return id, nil
}

// GetTransaction retrieves a transaction of an account
func (r *transactionRepository) GetTransaction(ctx context.Context, accountID, id string) (*domain.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND account_id = $2`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "transaction", ID: id}
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// DeleteTransaction removes a transaction of an account
func (r *transactionRepository) DeleteTransaction(ctx context.Context, accountID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "transaction", ID: id}
	}
	return nil
}

// ReadBalance returns the balance of an account and its version
func (r *transactionRepository) ReadBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	b := domain.Balance{AccountID: accountID}
	err := r.db.QueryRowContext(ctx, `SELECT balance, version FROM accounts WHERE id = $1`, accountID).
		Scan(&b.Amount, &b.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: accountID}
		}
		return domain.Balance{}, fmt.Errorf("failed to read balance: %w", err)
	}
	return b, nil
}

// WriteBalanceIfVersion writes the balance when the version still matches
// Logic:
//  1. UPDATE accounts ... WHERE version = expected; zero rows means a lost race (or no account)
//  2. When a transaction is named, move its state in the same database transaction;
//     zero rows means it already left FromState (or is gone)
func (r *transactionRepository) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	// 1. Conditional balance update
	updateBalance := `
		UPDATE accounts
		SET balance = $1, version = version + 1
		WHERE id = $2 AND version = $3
		RETURNING version
	`
	var newVersion int64
	err = dbTx.QueryRowContext(ctx, updateBalance, w.Amount, w.AccountID, w.ExpectedVersion).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := dbTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, w.AccountID).Scan(&exists); err != nil {
			return domain.Balance{}, fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return domain.Balance{}, &domain.NotFoundError{Entity: "account", ID: w.AccountID}
		}
		return domain.Balance{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("failed to update balance: %w", err)
	}

	// 2. State marker
	if w.TransactionID != "" {
		if err := markState(ctx, dbTx, w); err != nil {
			return domain.Balance{}, err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return domain.Balance{}, fmt.Errorf("failed to commit balance write: %w", err)
	}
	return domain.Balance{AccountID: w.AccountID, Amount: w.Amount, Version: newVersion}, nil
}

func markState(ctx context.Context, dbTx *sql.Tx, w domain.BalanceWrite) error {
	if _, err := uuid.Parse(w.TransactionID); err != nil {
		return &domain.NotFoundError{Entity: "transaction", ID: w.TransactionID}
	}

	res, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET state = $1 WHERE id = $2 AND account_id = $3 AND state = $4`,
		string(w.ToState), w.TransactionID, w.AccountID, string(w.FromState))
	if err != nil {
		return fmt.Errorf("failed to update transaction state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = dbTx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1 AND account_id = $2)`,
		w.TransactionID, w.AccountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check transaction: %w", err)
	}
	if !exists {
		return &domain.NotFoundError{Entity: "transaction", ID: w.TransactionID}
	}
	return domain.ErrStateConflict
}

// QueryTransactions returns matching transactions, newest first
func (r *transactionRepository) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	states := make([]string, 0, len(q.EffectiveStates()))
	for _, s := range q.EffectiveStates() {
		states = append(states, string(s))
	}

	conditions := []string{"account_id = $1", "state = ANY($2)"}
	args := []interface{}{q.AccountID, pq.Array(states)}
	if !q.From.IsZero() {
		args = append(args, q.From.ISO())
		conditions = append(conditions, fmt.Sprintf("occurred_on >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.ISO())
		conditions = append(conditions, fmt.Sprintf("occurred_on <= $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY recorded_at DESC, seq DESC`

	return r.list(ctx, query, args...)
}

// ListUnsettled returns Posted and Retracting transactions, oldest first
func (r *transactionRepository) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE state <> 'STORED' ORDER BY seq`
	if limit > 0 {
		return r.list(ctx, query+` LIMIT $1`, limit)
	}
	return r.list(ctx, query)
}

func (r *transactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var kind, state string
	var occurredOn time.Time

	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&kind,
		&tx.Amount,
		&tx.Category,
		&tx.Title,
		&occurredOn,
		&tx.RecordedAt,
		&state,
	)
	if err != nil {
		return nil, err
	}

	tx.Kind = domain.Kind(kind)
	tx.State = domain.TransactionState(state)
	tx.OccurredOn = domain.DateOf(occurredOn)
	tx.RecordedAt = tx.RecordedAt.UTC()
	return &tx, nil
}
