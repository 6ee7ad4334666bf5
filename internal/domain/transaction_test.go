package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validTransaction() Transaction {
	return Transaction{
		AccountID:  "acc-1",
		Kind:       KindExpense,
		Amount:     MustParseMoney("30.00"),
		Category:   "Groceries",
		Title:      "Weekly shop",
		OccurredOn: CalendarDate{Year: 2026, Month: time.October, Day: 16},
	}
}

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(tx *Transaction)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid expense",
			mutate:  func(tx *Transaction) {},
			wantErr: false,
		},
		{
			name:    "valid income with empty title",
			mutate:  func(tx *Transaction) { tx.Kind = KindIncome; tx.Title = "" },
			wantErr: false,
		},
		{
			name:    "zero amount should fail",
			mutate:  func(tx *Transaction) { tx.Amount = Zero },
			wantErr: true,
			errMsg:  "amount must be positive",
		},
		{
			name:    "negative amount should fail",
			mutate:  func(tx *Transaction) { tx.Amount = MustParseMoney("-1.00") },
			wantErr: true,
			errMsg:  "amount must be positive",
		},
		{
			name:    "amount beyond the storable range should fail",
			mutate:  func(tx *Transaction) { tx.Amount = NewMoneyFromCents(MaxCents + 1) },
			wantErr: true,
			errMsg:  "amount out of range",
		},
		{
			name:    "blank category should fail",
			mutate:  func(tx *Transaction) { tx.Category = "   " },
			wantErr: true,
			errMsg:  "category cannot be empty",
		},
		{
			name:    "unknown kind should fail",
			mutate:  func(tx *Transaction) { tx.Kind = Kind("TRANSFER") },
			wantErr: true,
			errMsg:  "kind must be INCOME or EXPENSE",
		},
		{
			name:    "missing account should fail",
			mutate:  func(tx *Transaction) { tx.AccountID = "" },
			wantErr: true,
			errMsg:  "account_id cannot be empty",
		},
		{
			name:    "missing date should fail",
			mutate:  func(tx *Transaction) { tx.OccurredOn = CalendarDate{} },
			wantErr: true,
			errMsg:  "date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransaction_Delta(t *testing.T) {
	tx := validTransaction()
	assert.Equal(t, "-30.00", tx.Delta().String())
	assert.Equal(t, "30.00", tx.InverseDelta().String())

	tx.Kind = KindIncome
	assert.Equal(t, "30.00", tx.Delta().String())
	assert.Equal(t, "-30.00", tx.InverseDelta().String())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Income")
	assert.NoError(t, err)
	assert.Equal(t, KindIncome, k)

	k, err = ParseKind("EXPENSE")
	assert.NoError(t, err)
	assert.Equal(t, KindExpense, k)

	_, err = ParseKind("refund")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransactionQuery_Matches(t *testing.T) {
	tx := validTransaction()
	tx.State = StateStored

	q := TransactionQuery{
		AccountID: "acc-1",
		From:      CalendarDate{2026, time.October, 1},
		To:        CalendarDate{2026, time.October, 31},
	}
	assert.True(t, q.Matches(&tx))

	q.To = CalendarDate{2026, time.October, 15}
	assert.False(t, q.Matches(&tx), "outside range")

	q.To = CalendarDate{}
	assert.True(t, q.Matches(&tx), "open-ended range")

	tx.State = StatePosted
	assert.False(t, q.Matches(&tx), "posted transactions are not in the balance yet")

	q.States = []TransactionState{StatePosted}
	assert.True(t, q.Matches(&tx))

	q.AccountID = "acc-2"
	assert.False(t, q.Matches(&tx))
}

func TestSumByKind(t *testing.T) {
	income := validTransaction()
	income.Kind = KindIncome
	income.Amount = MustParseMoney("100.00")
	expense := validTransaction()
	other := validTransaction()
	other.Amount = MustParseMoney("0.10")

	in, out := SumByKind([]*Transaction{&income, &expense, &other})
	assert.Equal(t, "100.00", in.String())
	assert.Equal(t, "30.10", out.String())
}

func TestNormalizeCategoryName(t *testing.T) {
	name, err := NormalizeCategoryName("  Food ")
	assert.NoError(t, err)
	assert.Equal(t, "Food", name)

	_, err = NormalizeCategoryName(" ")
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]rune, 65)
	for i := range long {
		long[i] = 'x'
	}
	_, err = NormalizeCategoryName(string(long))
	assert.ErrorIs(t, err, ErrValidation)
}
