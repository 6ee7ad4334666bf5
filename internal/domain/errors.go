package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below match these through errors.Is
var (
	ErrValidation     = errors.New("validation error")
	ErrConcurrency    = errors.New("concurrency error")
	ErrNotFound       = errors.New("not found")
	ErrStorage        = errors.New("storage error")
	ErrPartialFailure = errors.New("partial failure")

	// ErrVersionConflict is returned by a store when a conditional balance write loses the race
	ErrVersionConflict = errors.New("balance version conflict")
	// ErrStateConflict is returned by a store when the transaction named in a balance write
	// is no longer in the state the write expects (someone else settled it)
	ErrStateConflict = errors.New("transaction state conflict")
	// ErrAlreadyExists is returned when creating an entity whose key is taken
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError reports bad input. Never retriable
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ParseError reports a malformed decimal or date string
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Input, e.Reason)
}

// Is makes a ParseError count as a validation error
func (e *ParseError) Is(target error) bool {
	return target == ErrValidation
}

// ConcurrencyError is returned once the optimistic retry budget is spent
type ConcurrencyError struct {
	AccountID string
	Attempts  int
	// TransactionID is set when the transaction record was persisted but its delta
	// is not in the balance yet. Retry with Settle, not with a new Apply.
	TransactionID string
}

func (e *ConcurrencyError) Error() string {
	msg := fmt.Sprintf("balance of account %s changed concurrently, gave up after %d attempts", e.AccountID, e.Attempts)
	if e.TransactionID != "" {
		msg += fmt.Sprintf(" (transaction %s left unsettled)", e.TransactionID)
	}
	return msg
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// NotFoundError names the missing entity
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps an I/O or permission failure from the store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// PartialFailure means one half of a two-step operation committed and the other did not.
// Callers retry only the missing half: Settle for a pending balance update, Retract for a
// pending delete.
type PartialFailure struct {
	AccountID     string
	TransactionID string
	// Done is the half that committed, e.g. "balance reversal"
	Done string
	// Pending is the half still to be done, e.g. "delete transaction"
	Pending string
	Err     error
}

func (e *PartialFailure) Error() string {
	done := e.Done
	if done == "" {
		done = "first step"
	}
	return fmt.Sprintf("partial failure on transaction %s: %s committed but %s failed: %v", e.TransactionID, done, e.Pending, e.Err)
}

func (e *PartialFailure) Unwrap() error {
	return e.Err
}

func (e *PartialFailure) Is(target error) bool {
	return target == ErrPartialFailure
}
