package reconciler

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
	"github.com/simaogato/financik-backend/internal/usecase/ledger"
)

func postTransaction(t *testing.T, store *memory.Store, accountID string, kind domain.Kind, amount string) string {
	t.Helper()
	tx := &domain.Transaction{
		AccountID:  accountID,
		Kind:       kind,
		Amount:     domain.MustParseMoney(amount),
		Category:   "Misc",
		OccurredOn: domain.CalendarDate{Year: 2024, Month: time.May, Day: 2},
	}
	id, err := store.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)
	return id
}

func TestRunOnce_SettlesPostedAndFinishesRetracting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := ledger.NewLedgerService(store, store)
	_, err := svc.OpenAccount(ctx, "a", "A")
	require.NoError(t, err)
	_, err = svc.OpenAccount(ctx, "b", "B")
	require.NoError(t, err)

	postTransaction(t, store, "a", domain.KindIncome, "25.00")
	postTransaction(t, store, "a", domain.KindExpense, "5.00")
	postTransaction(t, store, "b", domain.KindIncome, "1.50")

	// a stored transaction whose retract stopped after the balance write
	res, err := svc.Apply(ctx, "b", domain.Transaction{
		Kind: domain.KindIncome, Amount: domain.MustParseMoney("9.00"), Category: "Misc",
		OccurredOn: domain.CalendarDate{Year: 2024, Month: time.May, Day: 1},
	})
	require.NoError(t, err)
	b, err := store.ReadBalance(ctx, "b")
	require.NoError(t, err)
	_, err = store.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID:       "b",
		Amount:          b.Amount.Sub(domain.MustParseMoney("9.00")),
		ExpectedVersion: b.Version,
		TransactionID:   res.Transaction.ID,
		FromState:       domain.StateStored,
		ToState:         domain.StateRetracting,
	})
	require.NoError(t, err)

	r := NewReconciler(store, svc, nil)
	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Settled: 3, Retracted: 1}, report)

	balanceA, _ := store.ReadBalance(ctx, "a")
	balanceB, _ := store.ReadBalance(ctx, "b")
	assert.Equal(t, "20.00", balanceA.Amount.String())
	assert.Equal(t, "1.50", balanceB.Amount.String())

	_, err = store.GetTransaction(ctx, "b", res.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// a second pass finds nothing and changes nothing
	report, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	again, _ := store.ReadBalance(ctx, "a")
	assert.Equal(t, balanceA, again)
}

func TestRunOnce_RespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := ledger.NewLedgerService(store, store)
	_, err := svc.OpenAccount(ctx, "a", "A")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		postTransaction(t, store, "a", domain.KindIncome, "1.00")
	}

	r := NewReconciler(store, svc, nil)
	r.BatchSize = 2

	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Settled)

	left, err := store.ListUnsettled(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestRun_AgainstLiveCallersKeepsBalanceEqualToStoredSum(t *testing.T) {
	const callers = 30
	ctx := context.Background()
	store := memory.NewStore()
	// a single attempt makes callers lose races and leave Posted records behind
	svc := ledger.NewLedgerService(store, store, ledger.WithConfig(ledger.Config{MaxAttempts: 1, RetryBase: time.Microsecond}))
	_, err := svc.OpenAccount(ctx, "a", "A")
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	r := NewReconciler(store, svc, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx, time.Millisecond) }()

	var retracted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := domain.Transaction{
				Kind:       domain.KindIncome,
				Amount:     domain.MustParseMoney("3.00"),
				Category:   "Misc",
				OccurredOn: domain.CalendarDate{Year: 2024, Month: time.May, Day: 2},
			}
			if i%3 == 0 {
				tx.Kind = domain.KindExpense
				tx.Amount = domain.MustParseMoney("1.25")
			}
			res, err := svc.Apply(ctx, "a", tx)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrConcurrency)
				return
			}
			if i%2 == 0 {
				if _, err := svc.Retract(ctx, "a", res.Transaction.ID); err == nil {
					retracted.Add(1)
				} else {
					assert.ErrorIs(t, err, domain.ErrConcurrency)
				}
			}
		}(i)
	}
	wg.Wait()
	stop()
	require.NoError(t, <-done)

	// finish whatever the live passes could not
	assert.Eventually(t, func() bool {
		if _, err := r.RunOnce(ctx); err != nil {
			return false
		}
		left, err := store.ListUnsettled(ctx, 0)
		return err == nil && len(left) == 0
	}, 5*time.Second, time.Millisecond)

	stored, err := svc.QueryByDateRange(ctx, "a", domain.CalendarDate{}, domain.CalendarDate{})
	require.NoError(t, err)
	assert.Len(t, stored, callers-int(retracted.Load()))

	in, out := domain.SumByKind(stored)
	b, err := store.ReadBalance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, in.Sub(out), b.Amount)
}

// MockLedger is a mock implementation of Ledger for testing
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Settle(ctx context.Context, accountID, transactionID string) (domain.Money, error) {
	args := m.Called(ctx, accountID, transactionID)
	return args.Get(0).(domain.Money), args.Error(1)
}

func (m *MockLedger) Retract(ctx context.Context, accountID, transactionID string) (domain.Money, error) {
	args := m.Called(ctx, accountID, transactionID)
	return args.Get(0).(domain.Money), args.Error(1)
}

// MockLister is a mock implementation of UnsettledLister for testing
type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Transaction), args.Error(1)
}

func TestRunOnce_CountsFailuresAndIgnoresVanishedRecords(t *testing.T) {
	ctx := context.Background()
	lister := new(MockLister)
	ledgerMock := new(MockLedger)

	lister.On("ListUnsettled", ctx, DefaultBatchSize).Return([]*domain.Transaction{
		{ID: "t1", AccountID: "a", State: domain.StatePosted},
		{ID: "t2", AccountID: "a", State: domain.StatePosted},
		{ID: "t3", AccountID: "a", State: domain.StateRetracting},
	}, nil)
	ledgerMock.On("Settle", mock.Anything, "a", "t1").
		Return(domain.Zero, &domain.ConcurrencyError{AccountID: "a", Attempts: 5})
	ledgerMock.On("Settle", mock.Anything, "a", "t2").
		Return(domain.Zero, &domain.NotFoundError{Entity: "transaction", ID: "t2"})
	ledgerMock.On("Retract", mock.Anything, "a", "t3").Return(domain.Zero, nil)

	r := NewReconciler(lister, ledgerMock, nil)
	report, err := r.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, Report{Settled: 1, Retracted: 1, Failed: 1}, report)
	lister.AssertExpectations(t)
	ledgerMock.AssertExpectations(t)
}

func TestRunOnce_ListingErrorAbortsPass(t *testing.T) {
	ctx := context.Background()
	lister := new(MockLister)
	lister.On("ListUnsettled", ctx, DefaultBatchSize).Return(nil, errors.New("db down"))

	r := NewReconciler(lister, new(MockLedger), nil)
	_, err := r.RunOnce(ctx)
	assert.EqualError(t, err, "db down")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lister := new(MockLister)
	lister.On("ListUnsettled", mock.Anything, DefaultBatchSize).
		Run(func(mock.Arguments) { cancel() }).
		Return([]*domain.Transaction{}, nil)

	r := NewReconciler(lister, new(MockLedger), nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Hour) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
