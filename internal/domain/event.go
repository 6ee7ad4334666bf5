package domain

import (
	"encoding/json"
	"time"
)

// EventType names a ledger event
type EventType string

const (
	EventTransactionApplied   EventType = "transaction.applied"
	EventTransactionRetracted EventType = "transaction.retracted"
	EventBalanceSet           EventType = "balance.set"
)

// LedgerEvent is published after a ledger operation commits
type LedgerEvent struct {
	Type          EventType `json:"type"`
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Kind          Kind      `json:"kind,omitempty"`
	Amount        *Money    `json:"amount,omitempty"`
	Balance       Money     `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewTransactionEvent builds an applied/retracted event for tx
func NewTransactionEvent(eventType EventType, tx *Transaction, balance Money, at time.Time) LedgerEvent {
	amount := tx.Amount
	return LedgerEvent{
		Type:          eventType,
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		Amount:        &amount,
		Balance:       balance,
		OccurredAt:    at,
	}
}

// ToJSON converts the event to JSON bytes
func (e LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event
func LedgerEventFromJSON(data []byte) (LedgerEvent, error) {
	var e LedgerEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
