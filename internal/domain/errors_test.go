package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "validation", err: &ValidationError{Field: "amount", Reason: "must be positive"}, kind: ErrValidation},
		{name: "parse", err: &ParseError{Input: "x", Reason: "bad"}, kind: ErrValidation},
		{name: "concurrency", err: &ConcurrencyError{AccountID: "a", Attempts: 5}, kind: ErrConcurrency},
		{name: "not found", err: &NotFoundError{Entity: "transaction", ID: "t1"}, kind: ErrNotFound},
		{name: "storage", err: &StorageError{Op: "read balance", Err: io.ErrUnexpectedEOF}, kind: ErrStorage},
		{name: "partial", err: &PartialFailure{TransactionID: "t1", Pending: "delete transaction", Err: io.EOF}, kind: ErrPartialFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to apply: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestStorageError_UnwrapsOriginal(t *testing.T) {
	err := &StorageError{Op: "write balance", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPartialFailure_CarriesTransactionID(t *testing.T) {
	var err error = &PartialFailure{AccountID: "acc", TransactionID: "tx-9", Pending: "delete transaction", Err: io.EOF}

	var pf *PartialFailure
	assert.True(t, errors.As(err, &pf))
	assert.Equal(t, "tx-9", pf.TransactionID)
	assert.Contains(t, err.Error(), "tx-9")
}

func TestPartialFailure_NamesCommittedHalf(t *testing.T) {
	tests := []struct {
		name string
		err  *PartialFailure
		want string
	}{
		{
			name: "apply cancelled before the balance moved",
			err:  &PartialFailure{TransactionID: "tx-1", Done: "transaction record", Pending: "balance update", Err: io.EOF},
			want: "partial failure on transaction tx-1: transaction record committed but balance update failed: EOF",
		},
		{
			name: "retract reversed the balance but kept the record",
			err:  &PartialFailure{TransactionID: "tx-2", Done: "balance reversal", Pending: "delete transaction", Err: io.EOF},
			want: "partial failure on transaction tx-2: balance reversal committed but delete transaction failed: EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}
