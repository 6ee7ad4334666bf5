package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/simaogato/financik-backend/internal/backoff"
	"github.com/simaogato/financik-backend/internal/domain"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryBase   = 10 * time.Millisecond
	maxRetryDelay      = time.Second
)

// Config tunes the optimistic retry loop
type Config struct {
	MaxAttempts int
	RetryBase   time.Duration
}

// DefaultConfig returns the retry settings used when none are given
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, RetryBase: DefaultRetryBase}
}

// Result is the outcome of Apply
type Result struct {
	Transaction *domain.Transaction
	Balance     domain.Money
}

// LedgerService applies transactions to account balances under optimistic concurrency.
// It holds no locks: every balance write is conditioned on the version read just before it.
type LedgerService struct {
	Store     domain.LedgerStore
	Accounts  domain.AccountRepository
	Cache     domain.BalanceCache
	Publisher domain.EventPublisher

	logger *zap.Logger
	config Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a LedgerService
type Option func(*LedgerService)

// WithCache sets the last-known-balance cache
func WithCache(cache domain.BalanceCache) Option {
	return func(s *LedgerService) { s.Cache = cache }
}

// WithPublisher sets the event publisher
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *LedgerService) { s.Publisher = p }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *LedgerService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConfig overrides the retry settings; zero fields keep their defaults
func WithConfig(cfg Config) Option {
	return func(s *LedgerService) {
		if cfg.MaxAttempts > 0 {
			s.config.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.RetryBase > 0 {
			s.config.RetryBase = cfg.RetryBase
		}
	}
}

// WithClock overrides the clock used for event timestamps
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// withSleep replaces the backoff sleep; tests use it to avoid real delays
func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *LedgerService) { s.sleep = sleep }
}

// NewLedgerService creates a new LedgerService instance
func NewLedgerService(store domain.LedgerStore, accounts domain.AccountRepository, opts ...Option) *LedgerService {
	s := &LedgerService{
		Store:    store,
		Accounts: accounts,
		logger:   zap.NewNop(),
		config:   DefaultConfig(),
		now:      time.Now,
		sleep:    backoff.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "ledger"))
	return s
}

// OpenAccount creates an account with a zero balance
// Opening an existing account returns it unchanged
func (s *LedgerService) OpenAccount(ctx context.Context, accountID, name string) (*domain.Account, error) {
	account := &domain.Account{ID: accountID, Name: name, Balance: domain.Zero}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	err := s.Accounts.CreateAccount(ctx, account)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, getErr := s.Accounts.GetAccount(ctx, accountID)
		if getErr != nil {
			return nil, storageErr("get account", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, storageErr("create account", err)
	}

	s.logger.Info("account opened", zap.String("account_id", accountID))
	return account, nil
}

// Apply records tx for accountID and adds its delta to the balance
// Logic:
//  1. Validate (the transaction is Pending, nothing is persisted on failure)
//  2. Persist the record as Posted; the store assigns ID and RecordedAt
//  3. CAS loop: read balance+version, write balance+delta if the version is unchanged,
//     moving the record Posted -> Stored in the same write
//  4. On success refresh the cache and publish transaction.applied
//
// If the loop gives up or ctx is cancelled after step 2, the record stays Posted and the
// error names it; Settle (or the reconciler) finishes it without applying the delta twice.
// A delta that would push the balance past domain.MaxCents is a validation error and the
// Posted record is removed again.
func (s *LedgerService) Apply(ctx context.Context, accountID string, tx domain.Transaction) (*Result, error) {
	if tx.AccountID == "" {
		tx.AccountID = accountID
	}
	if tx.AccountID != accountID {
		return nil, &domain.ValidationError{Field: "account_id", Reason: "does not match the transaction"}
	}
	tx.ID = ""
	tx.State = domain.StatePending
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.Store.CreateTransaction(ctx, &tx); err != nil {
		return nil, storageErr("create transaction", err)
	}

	balance, err := s.settle(ctx, &tx)
	if err != nil {
		return nil, s.unsettledErr(ctx, &tx, err)
	}
	tx.State = domain.StateStored

	s.afterCommit(ctx, domain.NewTransactionEvent(domain.EventTransactionApplied, &tx, balance, s.now().UTC()))
	return &Result{Transaction: &tx, Balance: balance}, nil
}

// Settle applies the delta of a Posted transaction that Apply could not finish
// Settling an already Stored transaction is a no-op that returns the current balance.
func (s *LedgerService) Settle(ctx context.Context, accountID, transactionID string) (domain.Money, error) {
	tx, err := s.Store.GetTransaction(ctx, accountID, transactionID)
	if err != nil {
		return domain.Zero, storageErr("get transaction", err)
	}

	if tx.State != domain.StatePosted {
		return s.currentBalance(ctx, accountID)
	}

	balance, err := s.settle(ctx, tx)
	if err != nil {
		return domain.Zero, err
	}
	tx.State = domain.StateStored

	s.logger.Info("settled posted transaction",
		zap.String("account_id", accountID),
		zap.String("transaction_id", transactionID))
	s.afterCommit(ctx, domain.NewTransactionEvent(domain.EventTransactionApplied, tx, balance, s.now().UTC()))
	return balance, nil
}

func (s *LedgerService) settle(ctx context.Context, tx *domain.Transaction) (domain.Money, error) {
	delta := tx.Delta()
	mark := &stateChange{transactionID: tx.ID, from: domain.StatePosted, to: domain.StateStored}

	written, err := s.casLoop(ctx, tx.AccountID, func(current domain.Money) (domain.Money, error) {
		return current.AddChecked(delta)
	}, mark)
	if errors.Is(err, domain.ErrStateConflict) {
		// settled concurrently (reconciler or another Settle call)
		return s.currentBalance(ctx, tx.AccountID)
	}
	if errors.Is(err, domain.ErrValidation) {
		// the delta can never fit; drop the record so the reconciler does not retry it forever
		if _, _, discardErr := s.retract(ctx, tx.AccountID, tx.ID); discardErr != nil {
			s.logger.Error("failed to discard unsettleable transaction",
				zap.String("account_id", tx.AccountID),
				zap.String("transaction_id", tx.ID),
				zap.Error(discardErr))
		}
		return domain.Zero, err
	}
	if err != nil {
		return domain.Zero, err
	}
	return written.Amount, nil
}

func (s *LedgerService) unsettledErr(ctx context.Context, tx *domain.Transaction, err error) error {
	var concurrencyErr *domain.ConcurrencyError
	if errors.As(err, &concurrencyErr) {
		concurrencyErr.TransactionID = tx.ID
		s.logger.Warn("balance update gave up, transaction left posted",
			zap.String("account_id", tx.AccountID),
			zap.String("transaction_id", tx.ID),
			zap.Int("attempts", concurrencyErr.Attempts))
		return concurrencyErr
	}

	if ctx.Err() != nil {
		s.logger.Warn("apply cancelled after the transaction was persisted",
			zap.String("account_id", tx.AccountID),
			zap.String("transaction_id", tx.ID),
			zap.Error(ctx.Err()))
		return &domain.PartialFailure{
			AccountID:     tx.AccountID,
			TransactionID: tx.ID,
			Done:          "transaction record",
			Pending:       "balance update",
			Err:           err,
		}
	}
	return err
}

// Retract removes a transaction and reverses its effect on the balance
// Logic:
//   - Stored: CAS the inverse delta, moving the record to Retracting, then delete it
//   - Retracting: a previous Retract adjusted the balance but failed to delete; delete only
//   - Posted: the delta never reached the balance; mark Retracting without changing it, then delete
//
// A failed delete after the balance moved returns *domain.PartialFailure; calling Retract
// again finishes the delete without adjusting the balance a second time.
func (s *LedgerService) Retract(ctx context.Context, accountID, transactionID string) (domain.Money, error) {
	tx, balance, err := s.retract(ctx, accountID, transactionID)
	if err != nil {
		return domain.Zero, err
	}
	s.afterCommit(ctx, domain.NewTransactionEvent(domain.EventTransactionRetracted, tx, balance, s.now().UTC()))
	return balance, nil
}

func (s *LedgerService) retract(ctx context.Context, accountID, transactionID string) (*domain.Transaction, domain.Money, error) {
	var tx *domain.Transaction
	var balance domain.Money
	adjusted := false

	// states only move forward (Posted -> Stored -> Retracting), so this settles in a few rounds
	for round := 0; round < 3 && !adjusted; round++ {
		var err error
		tx, err = s.Store.GetTransaction(ctx, accountID, transactionID)
		if err != nil {
			return nil, domain.Zero, storageErr("get transaction", err)
		}

		switch tx.State {
		case domain.StateRetracting:
			adjusted = true
		case domain.StateStored, domain.StatePosted:
			inverse := tx.InverseDelta()
			if tx.State == domain.StatePosted {
				inverse = domain.Zero
			}
			mark := &stateChange{transactionID: tx.ID, from: tx.State, to: domain.StateRetracting}
			written, err := s.casLoop(ctx, accountID, func(current domain.Money) (domain.Money, error) {
				return current.AddChecked(inverse)
			}, mark)
			if errors.Is(err, domain.ErrStateConflict) {
				continue
			}
			if err != nil {
				return nil, domain.Zero, err
			}
			balance = written.Amount
			adjusted = true
		default:
			return nil, domain.Zero, &domain.ValidationError{Field: "transaction", Reason: "is in unknown state " + string(tx.State)}
		}
	}
	if !adjusted {
		return nil, domain.Zero, &domain.ConcurrencyError{AccountID: accountID, Attempts: 3, TransactionID: transactionID}
	}

	if err := s.Store.DeleteTransaction(ctx, accountID, transactionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("balance reversed but transaction delete failed",
			zap.String("account_id", accountID),
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, domain.Zero, &domain.PartialFailure{
			AccountID:     accountID,
			TransactionID: transactionID,
			Done:          "balance reversal",
			Pending:       "delete transaction",
			Err:           err,
		}
	}

	balance, err := s.currentBalance(ctx, accountID)
	if err != nil {
		return nil, domain.Zero, err
	}
	return tx, balance, nil
}

// SetBalance overwrites the balance (manual correction)
// Historical transactions are not reconciled. The write still goes through the version
// protocol so concurrent Apply/Retract calls notice it.
func (s *LedgerService) SetBalance(ctx context.Context, accountID string, amount domain.Money) (domain.Money, error) {
	if !amount.InRange() {
		return domain.Zero, &domain.ValidationError{Field: "balance", Reason: "out of range"}
	}
	written, err := s.casLoop(ctx, accountID, func(domain.Money) (domain.Money, error) {
		return amount, nil
	}, nil)
	if err != nil {
		return domain.Zero, err
	}

	s.logger.Info("balance overwritten",
		zap.String("account_id", accountID),
		zap.String("balance", written.Amount.String()))
	s.afterCommit(ctx, domain.LedgerEvent{
		Type:       domain.EventBalanceSet,
		AccountID:  accountID,
		Balance:    written.Amount,
		OccurredAt: s.now().UTC(),
	})
	return written.Amount, nil
}

// QueryByDateRange returns Stored transactions whose date is within [from, to], newest first
// Zero bounds are open.
func (s *LedgerService) QueryByDateRange(ctx context.Context, accountID string, from, to domain.CalendarDate) ([]*domain.Transaction, error) {
	if !from.IsZero() && !to.IsZero() && from.Compare(to) > 0 {
		return nil, &domain.ValidationError{Field: "date range", Reason: "from must not be after to"}
	}

	txs, err := s.Store.QueryTransactions(ctx, domain.TransactionQuery{
		AccountID: accountID,
		From:      from,
		To:        to,
		States:    []domain.TransactionState{domain.StateStored},
	})
	if err != nil {
		return nil, storageErr("query transactions", err)
	}
	return txs, nil
}

// Balance returns the current balance of an account
// When the store is unreachable the last known value is returned with Stale set.
func (s *LedgerService) Balance(ctx context.Context, accountID string) (domain.BalanceView, error) {
	b, err := s.Store.ReadBalance(ctx, accountID)
	if err != nil {
		wrapped := storageErr("read balance", err)
		if errors.Is(wrapped, domain.ErrStorage) && s.Cache != nil {
			if cached, ok := s.Cache.Get(ctx, accountID); ok {
				s.logger.Warn("serving cached balance", zap.String("account_id", accountID), zap.Error(err))
				return domain.BalanceView{AccountID: accountID, Amount: cached, Stale: true}, nil
			}
		}
		return domain.BalanceView{}, wrapped
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, accountID, b.Amount)
	}
	return domain.BalanceView{AccountID: accountID, Amount: b.Amount}, nil
}

func (s *LedgerService) currentBalance(ctx context.Context, accountID string) (domain.Money, error) {
	b, err := s.Store.ReadBalance(ctx, accountID)
	if err != nil {
		return domain.Zero, storageErr("read balance", err)
	}
	return b.Amount, nil
}

func (s *LedgerService) afterCommit(ctx context.Context, event domain.LedgerEvent) {
	if s.Cache != nil {
		s.Cache.Set(ctx, event.AccountID, event.Balance)
	}
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.String("type", string(event.Type)),
			zap.String("account_id", event.AccountID),
			zap.Error(err))
	}
}

// storageErr wraps store failures that are not part of the domain taxonomy
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}
