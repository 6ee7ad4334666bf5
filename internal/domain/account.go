package domain

import (
	"strings"
	"time"
)

// Account owns the single balance of a user
type Account struct {
	ID        string
	Name      string
	Balance   Money
	Version   int64
	CreatedAt time.Time
}

// Validate ensures the account adheres to domain rules
func (a *Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "account_id", Reason: "cannot be empty"}
	}
	if len(a.Name) > 100 {
		return &ValidationError{Field: "name", Reason: "too long (max 100 characters)"}
	}
	return nil
}

// Balance is the stored balance of an account and its version token
// Every write through WriteBalanceIfVersion bumps Version by one
type Balance struct {
	AccountID string
	Amount    Money
	Version   int64
}

// BalanceWrite is a conditional balance write
type BalanceWrite struct {
	AccountID       string
	Amount          Money
	ExpectedVersion int64

	// TransactionID, when set, moves that transaction from FromState to ToState
	// in the same atomic write as the balance
	TransactionID string
	FromState     TransactionState
	ToState       TransactionState
}

// BalanceView is a balance as shown to a caller
type BalanceView struct {
	AccountID string
	Amount    Money
	// Stale is set when the store was unreachable and the value came from the cache
	Stale bool
}
