package domain

import (
	"strings"
	"time"
)

// Kind represents the direction of a transaction
type Kind string

const (
	KindIncome  Kind = "INCOME"
	KindExpense Kind = "EXPENSE"
)

// ParseKind accepts the stored form and the capitalised form the app sent ("Income")
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(KindIncome):
		return KindIncome, nil
	case string(KindExpense):
		return KindExpense, nil
	default:
		return "", &ValidationError{Field: "kind", Reason: "must be INCOME or EXPENSE"}
	}
}

// TransactionState tracks how far a transaction got through the ledger
type TransactionState string

const (
	// StatePending: validated, not yet persisted. Never stored.
	StatePending TransactionState = "PENDING"
	// StatePosted: persisted, its delta is not yet in the balance
	StatePosted TransactionState = "POSTED"
	// StateStored: persisted and reflected in the balance
	StateStored TransactionState = "STORED"
	// StateRetracting: inverse delta applied, record not yet deleted
	StateRetracting TransactionState = "RETRACTING"
	// StateRetracted: removed. Never stored.
	StateRetracted TransactionState = "RETRACTED"
)

// Transaction represents one ledger entry of an account
// Immutable once created, except for State which only the ledger moves
type Transaction struct {
	ID         string
	AccountID  string
	Kind       Kind
	Amount     Money // Always positive; Kind gives the sign
	Category   string
	Title      string
	OccurredOn CalendarDate
	RecordedAt time.Time // Assigned by the store
	State      TransactionState
}

// Validate ensures the transaction adheres to domain rules
func (t *Transaction) Validate() error {
	if t.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "cannot be empty"}
	}
	if t.Kind != KindIncome && t.Kind != KindExpense {
		return &ValidationError{Field: "kind", Reason: "must be INCOME or EXPENSE"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !t.Amount.InRange() {
		return &ValidationError{Field: "amount", Reason: "out of range"}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Reason: "cannot be empty"}
	}
	if len(t.Title) > 200 {
		return &ValidationError{Field: "title", Reason: "too long (max 200 characters)"}
	}
	if err := t.OccurredOn.Validate(); err != nil {
		return err
	}
	return nil
}

// Delta is the signed effect of the transaction on the balance
func (t *Transaction) Delta() Money {
	if t.Kind == KindExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// InverseDelta undoes Delta
func (t *Transaction) InverseDelta() Money {
	return t.Delta().Neg()
}

// Clone returns a copy safe to hand out of a store
func (t *Transaction) Clone() *Transaction {
	c := *t
	return &c
}

// TransactionQuery selects transactions of one account by occurrence date
type TransactionQuery struct {
	AccountID string
	From      CalendarDate
	To        CalendarDate
	// States defaults to StateStored when empty
	States []TransactionState
}

// Matches reports whether tx satisfies the query
func (q TransactionQuery) Matches(tx *Transaction) bool {
	if tx.AccountID != q.AccountID {
		return false
	}
	if !q.From.IsZero() && tx.OccurredOn.Compare(q.From) < 0 {
		return false
	}
	if !q.To.IsZero() && tx.OccurredOn.Compare(q.To) > 0 {
		return false
	}
	for _, s := range q.EffectiveStates() {
		if tx.State == s {
			return true
		}
	}
	return false
}

// EffectiveStates applies the StateStored default
func (q TransactionQuery) EffectiveStates() []TransactionState {
	if len(q.States) == 0 {
		return []TransactionState{StateStored}
	}
	return q.States
}

// SumByKind totals income and expense amounts of txs
func SumByKind(txs []*Transaction) (income, expense Money) {
	for _, tx := range txs {
		if tx.Kind == KindIncome {
			income = income.Add(tx.Amount)
		} else {
			expense = expense.Add(tx.Amount)
		}
	}
	return income, expense
}
