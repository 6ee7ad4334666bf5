package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/financik-backend/internal/adapter/repository/memory"
	"github.com/simaogato/financik-backend/internal/domain"
)

const testAccount = "acc-1"

var march5 = domain.CalendarDate{Year: 2024, Month: time.March, Day: 5}

func noSleep() Option {
	return withSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
}

func income(amount string) domain.Transaction {
	return domain.Transaction{
		Kind:       domain.KindIncome,
		Amount:     domain.MustParseMoney(amount),
		Category:   "Salary",
		OccurredOn: march5,
	}
}

func expense(amount string) domain.Transaction {
	return domain.Transaction{
		Kind:       domain.KindExpense,
		Amount:     domain.MustParseMoney(amount),
		Category:   "Food",
		OccurredOn: march5,
	}
}

// newLedger returns a ledger over store with testAccount opened
func newLedger(t *testing.T, store domain.LedgerStore, accounts *memory.Store, opts ...Option) *LedgerService {
	t.Helper()
	svc := NewLedgerService(store, accounts, append([]Option{noSleep()}, opts...)...)
	_, err := svc.OpenAccount(context.Background(), testAccount, "Main")
	require.NoError(t, err)
	return svc
}

func TestApply_IncomeThenExpenseThenOverride(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	res, err := svc.Apply(ctx, testAccount, income("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", res.Balance.String())
	assert.NotEmpty(t, res.Transaction.ID)
	assert.Equal(t, domain.StateStored, res.Transaction.State)

	res, err = svc.Apply(ctx, testAccount, expense("30.00"))
	require.NoError(t, err)
	assert.Equal(t, "70.00", res.Balance.String())

	res, err = svc.Apply(ctx, testAccount, expense("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "-30.00", res.Balance.String())

	view, err := svc.Balance(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, "-30.00", view.Amount.String())
	assert.False(t, view.Stale)
}

func TestApply_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		tx     domain.Transaction
		errMsg string
	}{
		{
			name:   "zero amount",
			tx:     income("0.00"),
			errMsg: "amount must be positive",
		},
		{
			name: "negative amount",
			tx: domain.Transaction{
				Kind: domain.KindExpense, Amount: domain.MustParseMoney("-1.00"), Category: "Food", OccurredOn: march5,
			},
			errMsg: "amount must be positive",
		},
		{
			name: "missing category",
			tx: domain.Transaction{
				Kind: domain.KindIncome, Amount: domain.MustParseMoney("1.00"), Category: "  ", OccurredOn: march5,
			},
			errMsg: "category cannot be empty",
		},
		{
			name: "unknown kind",
			tx: domain.Transaction{
				Kind: "TRANSFER", Amount: domain.MustParseMoney("1.00"), Category: "Misc", OccurredOn: march5,
			},
			errMsg: "kind must be INCOME or EXPENSE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			svc := newLedger(t, store, store)

			res, err := svc.Apply(ctx, testAccount, tt.tx)

			assert.Nil(t, res)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.errMsg)

			// nothing persisted, balance untouched
			all, qErr := store.QueryTransactions(ctx, domain.TransactionQuery{
				AccountID: testAccount,
				States:    []domain.TransactionState{domain.StatePosted, domain.StateStored},
			})
			require.NoError(t, qErr)
			assert.Empty(t, all)
			b, _ := store.ReadBalance(ctx, testAccount)
			assert.True(t, b.Amount.IsZero())
			assert.Equal(t, int64(0), b.Version)
		})
	}
}

func TestApply_AccountMismatch(t *testing.T) {
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	tx := income("5.00")
	tx.AccountID = "someone-else"
	_, err := svc.Apply(context.Background(), testAccount, tx)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApply_UnknownAccount(t *testing.T) {
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	_, err := svc.Apply(context.Background(), "missing", income("5.00"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyThenRetract_RestoresBalance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	_, err := svc.SetBalance(ctx, testAccount, domain.MustParseMoney("12.34"))
	require.NoError(t, err)

	for _, tx := range []domain.Transaction{income("99.99"), expense("0.01")} {
		res, err := svc.Apply(ctx, testAccount, tx)
		require.NoError(t, err)

		balance, err := svc.Retract(ctx, testAccount, res.Transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, "12.34", balance.String())

		_, err = store.GetTransaction(ctx, testAccount, res.Transaction.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestRetract_NotFound(t *testing.T) {
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	_, err := svc.Retract(context.Background(), testAccount, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "transaction", nf.Entity)
}

func TestBalance_EqualsSumOfStoredTransactions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	var ids []string
	amounts := []domain.Transaction{
		income("10.00"), expense("2.50"), income("0.99"), expense("7.77"), income("120.01"), expense("0.01"),
	}
	for _, tx := range amounts {
		res, err := svc.Apply(ctx, testAccount, tx)
		require.NoError(t, err)
		ids = append(ids, res.Transaction.ID)
	}
	_, err := svc.Retract(ctx, testAccount, ids[1])
	require.NoError(t, err)
	_, err = svc.Retract(ctx, testAccount, ids[4])
	require.NoError(t, err)

	stored, err := svc.QueryByDateRange(ctx, testAccount, domain.CalendarDate{}, domain.CalendarDate{})
	require.NoError(t, err)
	require.Len(t, stored, 4)

	in, out := domain.SumByKind(stored)
	view, err := svc.Balance(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, in.Sub(out), view.Amount)
	assert.Equal(t, "3.21", view.Amount.String())
}

func TestApply_ConcurrentCallersNeverLoseUpdates(t *testing.T) {
	const callers = 50
	ctx := context.Background()
	store := memory.NewStore()
	// every lost race means another caller committed, so callers attempts always suffice
	svc := newLedger(t, store, store, WithConfig(Config{MaxAttempts: callers + 1}))

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := income("1.00")
			if i%2 == 1 {
				tx = expense("0.50")
			}
			_, err := svc.Apply(ctx, testAccount, tx)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	b, err := store.ReadBalance(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, "12.50", b.Amount.String())
	assert.Equal(t, int64(callers), b.Version)
}

func TestApplyAndRetract_ConcurrentCallersKeepBalanceEqualToStoredSum(t *testing.T) {
	const callers = 40
	ctx := context.Background()
	store := memory.NewStore()
	// callers applies plus callers/2 retracts; each lost race means one of them committed
	svc := newLedger(t, store, store, WithConfig(Config{MaxAttempts: callers + callers/2 + 1}))

	var wg sync.WaitGroup
	errs := make(chan error, 2*callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := income("2.00")
			if i%4 >= 2 {
				tx = expense("0.75")
			}
			res, err := svc.Apply(ctx, testAccount, tx)
			errs <- err
			if err != nil || i%2 == 1 {
				return
			}
			_, err = svc.Retract(ctx, testAccount, res.Transaction.ID)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := svc.QueryByDateRange(ctx, testAccount, domain.CalendarDate{}, domain.CalendarDate{})
	require.NoError(t, err)
	assert.Len(t, stored, callers/2)

	in, out := domain.SumByKind(stored)
	b, err := store.ReadBalance(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, in.Sub(out), b.Amount)
	// kept: ten incomes of 2.00 and ten expenses of 0.75
	assert.Equal(t, "12.50", b.Amount.String())
	assert.Equal(t, int64(callers+callers/2), b.Version)

	unsettled, err := store.ListUnsettled(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestApply_BalanceOutOfRangeIsRejected(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		tx      domain.Transaction
	}{
		{name: "income past the maximum", balance: "1.00", tx: income("9999999999999999.99")},
		{name: "expense past the minimum", balance: "-9999999999999999.00", tx: expense("1.00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.NewStore()
			svc := newLedger(t, store, store)
			_, err := svc.SetBalance(ctx, testAccount, domain.MustParseMoney(tt.balance))
			require.NoError(t, err)
			before, _ := store.ReadBalance(ctx, testAccount)

			_, err = svc.Apply(ctx, testAccount, tt.tx)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), "balance out of range")

			after, _ := store.ReadBalance(ctx, testAccount)
			assert.Equal(t, tt.balance, after.Amount.String())
			assert.Equal(t, before.Version+1, after.Version, "only the discard marker is written")

			// the record that could not be applied is gone, so nothing is left for the reconciler
			unsettled, err := store.ListUnsettled(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, unsettled)
			stored, err := svc.QueryByDateRange(ctx, testAccount, domain.CalendarDate{}, domain.CalendarDate{})
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestSettle_DiscardsPostedRecordThatCannotFit(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	svc := newLedger(t, mem, mem)

	tx := income("9999999999999999.99")
	tx.AccountID = testAccount
	id, err := mem.CreateTransaction(ctx, &tx)
	require.NoError(t, err)

	// the balance moved after the record was posted
	_, err = svc.SetBalance(ctx, testAccount, domain.MustParseMoney("0.01"))
	require.NoError(t, err)

	_, err = svc.Settle(ctx, testAccount, id)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = mem.GetTransaction(ctx, testAccount, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	b, _ := mem.ReadBalance(ctx, testAccount)
	assert.Equal(t, "0.01", b.Amount.String())
}

func TestSetBalance_OutOfRange(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	_, err := svc.SetBalance(ctx, testAccount, domain.NewMoneyFromCents(domain.MaxCents+1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	b, _ := store.ReadBalance(ctx, testAccount)
	assert.True(t, b.Amount.IsZero())
	assert.Equal(t, int64(0), b.Version)
}

// racingStore lets another caller commit between the first balance read and write
type racingStore struct {
	*memory.Store
	once  sync.Once
	other func()
}

func (s *racingStore) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	s.once.Do(s.other)
	return s.Store.WriteBalanceIfVersion(ctx, w)
}

func TestApply_VersionConflictOnFirstAttemptRetries(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	direct := newLedger(t, mem, mem)

	var otherErr error
	racing := &racingStore{Store: mem}
	racing.other = func() {
		_, otherErr = direct.Apply(ctx, testAccount, income("10.00"))
	}
	svc := NewLedgerService(racing, mem, noSleep())

	res, err := svc.Apply(ctx, testAccount, income("10.00"))
	require.NoError(t, err)
	require.NoError(t, otherErr)
	assert.Equal(t, "20.00", res.Balance.String())

	b, err := mem.ReadBalance(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, "20.00", b.Amount.String())
}

// conflictingStore loses every conditional write
type conflictingStore struct {
	*memory.Store
	writes atomic.Int32
}

func (s *conflictingStore) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	s.writes.Add(1)
	return domain.Balance{}, domain.ErrVersionConflict
}

func TestApply_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	newLedger(t, mem, mem)

	conflicting := &conflictingStore{Store: mem}
	var delays []time.Duration
	svc := NewLedgerService(conflicting, mem,
		WithConfig(Config{MaxAttempts: 4, RetryBase: time.Millisecond}),
		withSleep(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))

	res, err := svc.Apply(ctx, testAccount, income("5.00"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrConcurrency)

	var ce *domain.ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4, ce.Attempts)
	assert.NotEmpty(t, ce.TransactionID)
	assert.Equal(t, int32(4), conflicting.writes.Load())
	assert.Len(t, delays, 3)
	for i, d := range delays {
		assert.Less(t, d, time.Millisecond<<i)
	}

	// the record survives as Posted and Settle completes it exactly once
	tx, err := mem.GetTransaction(ctx, testAccount, ce.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePosted, tx.State)

	direct := NewLedgerService(mem, mem, noSleep())
	balance, err := direct.Settle(ctx, testAccount, ce.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.String())

	balance, err = direct.Settle(ctx, testAccount, ce.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.String())
}

// cancellingStore cancels the caller right after the record is persisted
type cancellingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	id, err := s.Store.CreateTransaction(ctx, tx)
	s.cancel()
	return id, err
}

func TestApply_CancelledAfterPersistLeavesPostedRecord(t *testing.T) {
	mem := memory.NewStore()
	newLedger(t, mem, mem)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewLedgerService(&cancellingStore{Store: mem, cancel: cancel}, mem, noSleep())

	_, err := svc.Apply(ctx, testAccount, expense("3.00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialFailure)
	assert.ErrorIs(t, err, context.Canceled)

	var pf *domain.PartialFailure
	require.ErrorAs(t, err, &pf)
	require.NotEmpty(t, pf.TransactionID)
	assert.Equal(t, "transaction record", pf.Done)
	assert.Equal(t, "balance update", pf.Pending)

	unsettled, err := mem.ListUnsettled(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, pf.TransactionID, unsettled[0].ID)
	assert.Equal(t, domain.StatePosted, unsettled[0].State)

	b, _ := mem.ReadBalance(context.Background(), testAccount)
	assert.True(t, b.Amount.IsZero())
}

func TestApply_CancelledBeforePersistLeavesNoTrace(t *testing.T) {
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Apply(ctx, testAccount, income("1.00"))
	assert.ErrorIs(t, err, context.Canceled)

	unsettled, err := store.ListUnsettled(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

// flakyDeleteStore fails the first delete
type flakyDeleteStore struct {
	*memory.Store
	failed bool
}

func (s *flakyDeleteStore) DeleteTransaction(ctx context.Context, accountID, id string) error {
	if !s.failed {
		s.failed = true
		return errors.New("connection reset")
	}
	return s.Store.DeleteTransaction(ctx, accountID, id)
}

func TestRetract_PartialFailureThenRetryDoesNotReadjust(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	flaky := &flakyDeleteStore{Store: mem}
	svc := newLedger(t, flaky, mem)

	res, err := svc.Apply(ctx, testAccount, income("40.00"))
	require.NoError(t, err)
	id := res.Transaction.ID

	_, err = svc.Retract(ctx, testAccount, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialFailure)
	var pf *domain.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, id, pf.TransactionID)
	assert.Equal(t, "balance reversal", pf.Done)
	assert.Contains(t, err.Error(), "connection reset")

	// balance already reversed, record marked
	b, _ := mem.ReadBalance(ctx, testAccount)
	assert.True(t, b.Amount.IsZero())
	tx, err := mem.GetTransaction(ctx, testAccount, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRetracting, tx.State)

	balance, err := svc.Retract(ctx, testAccount, id)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, err = mem.GetTransaction(ctx, testAccount, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// a retracting record is not part of the balance sum
	stored, err := svc.QueryByDateRange(ctx, testAccount, march5, march5)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRetract_PostedRecordIsDeletedWithoutAdjustment(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	svc := newLedger(t, mem, mem)

	_, err := svc.SetBalance(ctx, testAccount, domain.MustParseMoney("8.00"))
	require.NoError(t, err)

	tx := income("3.00")
	tx.AccountID = testAccount
	id, err := mem.CreateTransaction(ctx, &tx)
	require.NoError(t, err)

	balance, err := svc.Retract(ctx, testAccount, id)
	require.NoError(t, err)
	assert.Equal(t, "8.00", balance.String())

	_, err = mem.GetTransaction(ctx, testAccount, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetBalance_AdvancesVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	before, _ := store.ReadBalance(ctx, testAccount)
	amount, err := svc.SetBalance(ctx, testAccount, domain.MustParseMoney("-15.20"))
	require.NoError(t, err)
	assert.Equal(t, "-15.20", amount.String())

	after, _ := store.ReadBalance(ctx, testAccount)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestQueryByDateRange(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore(memory.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	svc := newLedger(t, store, store)

	dates := []domain.CalendarDate{
		{Year: 2024, Month: time.February, Day: 28},
		{Year: 2024, Month: time.March, Day: 1},
		{Year: 2024, Month: time.March, Day: 15},
		{Year: 2024, Month: time.March, Day: 31},
		{Year: 2024, Month: time.April, Day: 1},
	}
	ids := make([]string, len(dates))
	for i, d := range dates {
		tx := income("1.00")
		tx.OccurredOn = d
		res, err := svc.Apply(ctx, testAccount, tx)
		require.NoError(t, err)
		ids[i] = res.Transaction.ID
	}
	_, err := svc.Retract(ctx, testAccount, ids[2])
	require.NoError(t, err)

	from, to := domain.MonthBounds(2024, time.March)
	got, err := svc.QueryByDateRange(ctx, testAccount, from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// newest recorded first
	assert.Equal(t, ids[3], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)

	_, err = svc.QueryByDateRange(ctx, testAccount, to, from)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpenAccount_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newLedger(t, store, store)

	_, err := svc.Apply(ctx, testAccount, income("2.00"))
	require.NoError(t, err)

	account, err := svc.OpenAccount(ctx, testAccount, "Other name")
	require.NoError(t, err)
	assert.Equal(t, "Main", account.Name)
	assert.Equal(t, "2.00", account.Balance.String())

	_, err = svc.OpenAccount(ctx, " ", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// MockLedgerStore is a mock implementation of LedgerStore for testing
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	args := m.Called(ctx, tx)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerStore) GetTransaction(ctx context.Context, accountID, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, accountID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockLedgerStore) DeleteTransaction(ctx context.Context, accountID, id string) error {
	args := m.Called(ctx, accountID, id)
	return args.Error(0)
}

func (m *MockLedgerStore) ReadBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.Balance), args.Error(1)
}

func (m *MockLedgerStore) WriteBalanceIfVersion(ctx context.Context, w domain.BalanceWrite) (domain.Balance, error) {
	args := m.Called(ctx, w)
	return args.Get(0).(domain.Balance), args.Error(1)
}

func (m *MockLedgerStore) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

func (m *MockLedgerStore) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

// MockBalanceCache is a mock implementation of BalanceCache for testing
type MockBalanceCache struct {
	mock.Mock
}

func (m *MockBalanceCache) Get(ctx context.Context, accountID string) (domain.Money, bool) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.Money), args.Bool(1)
}

func (m *MockBalanceCache) Set(ctx context.Context, accountID string, amount domain.Money) {
	m.Called(ctx, accountID, amount)
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestApply_StorageErrorIsWrapped(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockLedgerStore)
	ioErr := errors.New("permission denied")
	mockStore.On("CreateTransaction", ctx, mock.AnythingOfType("*domain.Transaction")).Return("", ioErr)

	svc := NewLedgerService(mockStore, memory.NewStore(), noSleep())
	_, err := svc.Apply(ctx, testAccount, income("1.00"))

	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, ioErr)
	mockStore.AssertExpectations(t)
	mockStore.AssertNotCalled(t, "WriteBalanceIfVersion", mock.Anything, mock.Anything)
}

func TestApply_WritesDeltaAgainstReadVersion(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockLedgerStore)
	mockCache := new(MockBalanceCache)
	mockPublisher := new(MockEventPublisher)
	fixedNow := time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)

	mockStore.On("CreateTransaction", ctx, mock.AnythingOfType("*domain.Transaction")).
		Run(func(args mock.Arguments) {
			tx := args.Get(1).(*domain.Transaction)
			tx.ID = "tx-1"
			tx.State = domain.StatePosted
		}).
		Return("tx-1", nil)
	mockStore.On("ReadBalance", ctx, testAccount).
		Return(domain.Balance{AccountID: testAccount, Amount: domain.MustParseMoney("50.00"), Version: 7}, nil)
	mockStore.On("WriteBalanceIfVersion", ctx, domain.BalanceWrite{
		AccountID:       testAccount,
		Amount:          domain.MustParseMoney("42.50"),
		ExpectedVersion: 7,
		TransactionID:   "tx-1",
		FromState:       domain.StatePosted,
		ToState:         domain.StateStored,
	}).Return(domain.Balance{AccountID: testAccount, Amount: domain.MustParseMoney("42.50"), Version: 8}, nil)
	mockCache.On("Set", ctx, testAccount, domain.MustParseMoney("42.50")).Return()
	mockPublisher.On("Publish", ctx, mock.MatchedBy(func(e domain.LedgerEvent) bool {
		return e.Type == domain.EventTransactionApplied &&
			e.TransactionID == "tx-1" &&
			e.Balance.String() == "42.50" &&
			e.OccurredAt.Equal(fixedNow)
	})).Return(errors.New("broker down"))

	svc := NewLedgerService(mockStore, memory.NewStore(),
		noSleep(),
		WithCache(mockCache),
		WithPublisher(mockPublisher),
		WithClock(func() time.Time { return fixedNow }))

	res, err := svc.Apply(ctx, testAccount, expense("7.50"))

	// publish failures never fail the operation
	require.NoError(t, err)
	assert.Equal(t, "42.50", res.Balance.String())
	mockStore.AssertExpectations(t)
	mockCache.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

func TestBalance_FallsBackToCacheWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockLedgerStore)
	mockCache := new(MockBalanceCache)

	mockStore.On("ReadBalance", ctx, testAccount).Return(domain.Balance{}, errors.New("dial tcp: timeout")).Once()
	mockCache.On("Get", ctx, testAccount).Return(domain.MustParseMoney("11.00"), true).Once()

	svc := NewLedgerService(mockStore, memory.NewStore(), WithCache(mockCache))
	view, err := svc.Balance(ctx, testAccount)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, "11.00", view.Amount.String())

	mockStore.On("ReadBalance", ctx, testAccount).Return(domain.Balance{}, errors.New("dial tcp: timeout")).Once()
	mockCache.On("Get", ctx, testAccount).Return(domain.Zero, false).Once()
	_, err = svc.Balance(ctx, testAccount)
	assert.ErrorIs(t, err, domain.ErrStorage)

	mockStore.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}
