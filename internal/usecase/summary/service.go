package summary

import (
	"context"
	"errors"
	"time"

	"github.com/simaogato/financik-backend/internal/domain"
)

// Totals holds income, expense and their difference
type Totals struct {
	Income  domain.Money
	Expense domain.Money
	Net     domain.Money
}

// DailySummary represents the transactions and totals of one day
type DailySummary struct {
	Date         domain.CalendarDate
	Transactions []*domain.Transaction
	Totals
}

// MonthlyHistory represents the transactions and totals of one month
type MonthlyHistory struct {
	Year         int
	Month        time.Month
	Transactions []*domain.Transaction
	Totals
}

// TransactionQuerier reads Stored transactions
type TransactionQuerier interface {
	QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error)
}

// SummaryService computes daily and monthly totals
type SummaryService struct {
	Store TransactionQuerier
}

// NewSummaryService creates a new SummaryService instance
func NewSummaryService(store TransactionQuerier) *SummaryService {
	return &SummaryService{Store: store}
}

// Daily returns the Stored transactions occurring on date with their totals
func (s *SummaryService) Daily(ctx context.Context, accountID string, date domain.CalendarDate) (*DailySummary, error) {
	if err := date.Validate(); err != nil {
		return nil, err
	}

	txs, err := s.Store.QueryTransactions(ctx, domain.TransactionQuery{
		AccountID: accountID,
		From:      date,
		To:        date,
	})
	if err != nil {
		return nil, storageErr("query daily transactions", err)
	}

	return &DailySummary{
		Date:         date,
		Transactions: txs,
		Totals:       totalsOf(txs),
	}, nil
}

// Monthly returns the Stored transactions of a month, newest first, with their totals
// Logic:
//  1. Query the month's first..last day range
//  2. Keep only dates inside the month (a store may widen the range, never narrow it)
//  3. Sum income and expense
func (s *SummaryService) Monthly(ctx context.Context, accountID string, year int, month time.Month) (*MonthlyHistory, error) {
	if month < time.January || month > time.December {
		return nil, &domain.ValidationError{Field: "month", Reason: "must be between 1 and 12"}
	}
	if year < 1 || year > 9999 {
		return nil, &domain.ValidationError{Field: "year", Reason: "out of range"}
	}

	// 1. Query the whole month
	from, to := domain.MonthBounds(year, month)
	txs, err := s.Store.QueryTransactions(ctx, domain.TransactionQuery{
		AccountID: accountID,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, storageErr("query monthly transactions", err)
	}

	// 2. Filter by month membership
	inMonth := make([]*domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.OccurredOn.InMonth(year, month) {
			inMonth = append(inMonth, tx)
		}
	}

	// 3. Totals
	return &MonthlyHistory{
		Year:         year,
		Month:        month,
		Transactions: inMonth,
		Totals:       totalsOf(inMonth),
	}, nil
}

func totalsOf(txs []*domain.Transaction) Totals {
	income, expense := domain.SumByKind(txs)
	return Totals{Income: income, Expense: expense, Net: income.Sub(expense)}
}

// storageErr wraps a store failure; cancellation and domain errors pass through
func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrStorage) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}
