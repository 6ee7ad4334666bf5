// Package storetest holds the behaviour every domain.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/financik-backend/internal/domain"
)

// Factory returns an empty store; it is called once per subtest
type Factory func(t *testing.T) domain.Store

// Run exercises store against the ledger store contract
func Run(t *testing.T, newStore Factory) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("transaction lifecycle", func(t *testing.T) { testTransactionLifecycle(t, newStore(t)) })
	t.Run("conditional balance write", func(t *testing.T) { testConditionalWrite(t, newStore(t)) })
	t.Run("concurrent writers", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
	t.Run("query", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("unsettled", func(t *testing.T) { testUnsettled(t, newStore(t)) })
	t.Run("categories", func(t *testing.T) { testCategories(t, newStore(t)) })
}

func openAccount(t *testing.T, s domain.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &domain.Account{ID: id, Name: "Account " + id}))
}

func post(t *testing.T, s domain.Store, accountID string, kind domain.Kind, amount string, on domain.CalendarDate) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		AccountID:  accountID,
		Kind:       kind,
		Amount:     domain.MustParseMoney(amount),
		Category:   "Misc",
		Title:      "entry",
		OccurredOn: on,
	}
	_, err := s.CreateTransaction(context.Background(), tx)
	require.NoError(t, err)
	return tx
}

func day(d int) domain.CalendarDate {
	return domain.CalendarDate{Year: 2024, Month: time.July, Day: d}
}

func testAccounts(t *testing.T, s domain.Store) {
	ctx := context.Background()
	openAccount(t, s, "a")

	err := s.CreateAccount(ctx, &domain.Account{ID: "a"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	acc, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Account a", acc.Name)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, int64(0), acc.Version)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.ReadBalance(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testTransactionLifecycle(t *testing.T, s domain.Store) {
	ctx := context.Background()
	openAccount(t, s, "a")

	tx := post(t, s, "a", domain.KindExpense, "19.99", day(4))
	require.NotEmpty(t, tx.ID)
	assert.Equal(t, domain.StatePosted, tx.State)
	assert.False(t, tx.RecordedAt.IsZero())

	got, err := s.GetTransaction(ctx, "a", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, domain.KindExpense, got.Kind)
	assert.Equal(t, "19.99", got.Amount.String())
	assert.Equal(t, "Misc", got.Category)
	assert.Equal(t, "entry", got.Title)
	assert.Equal(t, day(4), got.OccurredOn)
	assert.Equal(t, domain.StatePosted, got.State)
	assert.WithinDuration(t, tx.RecordedAt, got.RecordedAt, time.Millisecond)

	_, err = s.GetTransaction(ctx, "other", tx.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.CreateTransaction(ctx, &domain.Transaction{
		AccountID: "missing", Kind: domain.KindIncome, Amount: domain.MustParseMoney("1.00"),
		Category: "Misc", OccurredOn: day(1),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.DeleteTransaction(ctx, "a", tx.ID))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "a", tx.ID), domain.ErrNotFound)
	_, err = s.GetTransaction(ctx, "a", tx.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConditionalWrite(t *testing.T, s domain.Store) {
	ctx := context.Background()
	openAccount(t, s, "a")
	tx := post(t, s, "a", domain.KindIncome, "10.00", day(1))

	written, err := s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID:       "a",
		Amount:          domain.MustParseMoney("10.00"),
		ExpectedVersion: 0,
		TransactionID:   tx.ID,
		FromState:       domain.StatePosted,
		ToState:         domain.StateStored,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), written.Version)
	assert.Equal(t, "10.00", written.Amount.String())

	_, err = s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID: "a", Amount: domain.MustParseMoney("99.00"), ExpectedVersion: 0,
	})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	// right version, wrong prior state: neither the balance nor the record change
	_, err = s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID:       "a",
		Amount:          domain.MustParseMoney("20.00"),
		ExpectedVersion: 1,
		TransactionID:   tx.ID,
		FromState:       domain.StatePosted,
		ToState:         domain.StateStored,
	})
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	b, err := s.ReadBalance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "10.00", b.Amount.String())
	assert.Equal(t, int64(1), b.Version)

	got, err := s.GetTransaction(ctx, "a", tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateStored, got.State)

	negative, err := s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID: "a", Amount: domain.MustParseMoney("-0.01"), ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "-0.01", negative.Amount.String())

	_, err = s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{AccountID: "missing", ExpectedVersion: 0})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConcurrentWriters(t *testing.T, s domain.Store) {
	const writers = 8
	ctx := context.Background()
	openAccount(t, s, "a")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
				AccountID: "a", Amount: domain.MustParseMoney("1.00"), ExpectedVersion: 0,
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrVersionConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	b, err := s.ReadBalance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)
}

func settle(t *testing.T, s domain.Store, tx *domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	b, err := s.ReadBalance(ctx, tx.AccountID)
	require.NoError(t, err)
	_, err = s.WriteBalanceIfVersion(ctx, domain.BalanceWrite{
		AccountID:       tx.AccountID,
		Amount:          b.Amount.Add(tx.Delta()),
		ExpectedVersion: b.Version,
		TransactionID:   tx.ID,
		FromState:       domain.StatePosted,
		ToState:         domain.StateStored,
	})
	require.NoError(t, err)
}

func testQuery(t *testing.T, s domain.Store) {
	ctx := context.Background()
	openAccount(t, s, "a")
	openAccount(t, s, "b")

	var stored []*domain.Transaction
	for _, d := range []int{1, 10, 20, 31} {
		tx := post(t, s, "a", domain.KindIncome, "1.00", day(d))
		settle(t, s, tx)
		stored = append(stored, tx)
		time.Sleep(2 * time.Millisecond)
	}
	post(t, s, "a", domain.KindIncome, "1.00", day(15)) // Posted, hidden by default
	settle(t, s, post(t, s, "b", domain.KindIncome, "1.00", day(15)))

	got, err := s.QueryTransactions(ctx, domain.TransactionQuery{AccountID: "a", From: day(10), To: day(31)})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, stored[3].ID, got[0].ID)
	assert.Equal(t, stored[2].ID, got[1].ID)
	assert.Equal(t, stored[1].ID, got[2].ID)

	all, err := s.QueryTransactions(ctx, domain.TransactionQuery{AccountID: "a"})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	withPosted, err := s.QueryTransactions(ctx, domain.TransactionQuery{
		AccountID: "a",
		From:      day(15),
		To:        day(15),
		States:    []domain.TransactionState{domain.StatePosted, domain.StateStored},
	})
	require.NoError(t, err)
	require.Len(t, withPosted, 1)
	assert.Equal(t, domain.StatePosted, withPosted[0].State)

	none, err := s.QueryTransactions(ctx, domain.TransactionQuery{AccountID: "a", From: day(2), To: day(9)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUnsettled(t *testing.T, s domain.Store) {
	ctx := context.Background()
	openAccount(t, s, "a")

	first := post(t, s, "a", domain.KindIncome, "1.00", day(1))
	second := post(t, s, "a", domain.KindIncome, "2.00", day(1))
	third := post(t, s, "a", domain.KindExpense, "3.00", day(1))
	settle(t, s, second)

	unsettled, err := s.ListUnsettled(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unsettled, 2)
	assert.Equal(t, first.ID, unsettled[0].ID)
	assert.Equal(t, third.ID, unsettled[1].ID)

	limited, err := s.ListUnsettled(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)
}

func testCategories(t *testing.T, s domain.Store) {
	ctx := context.Background()

	for _, name := range []string{"Travel", "Food", "Food", "Bills"} {
		require.NoError(t, s.AddCategory(ctx, domain.Category{AccountID: "a", Name: name}))
	}
	require.NoError(t, s.AddCategory(ctx, domain.Category{AccountID: "b", Name: "Other"}))

	names, err := s.ListCategories(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bills", "Food", "Travel"}, names)

	empty, err := s.ListCategories(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
