package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/simaogato/financik-backend/internal/backoff"
	"github.com/simaogato/financik-backend/internal/domain"
)

// stateChange moves a transaction record in the same write as the balance
type stateChange struct {
	transactionID string
	from          domain.TransactionState
	to            domain.TransactionState
}

// casLoop reads the balance, computes the new value and writes it back conditioned on the
// version it read. A lost race re-reads and retries with jittered backoff, up to MaxAttempts.
// ErrStateConflict is returned as is so callers can tell a finished settlement from a race.
// A compute error (an out of range balance) ends the loop without writing.
func (s *LedgerService) casLoop(ctx context.Context, accountID string, compute func(current domain.Money) (domain.Money, error), mark *stateChange) (domain.Balance, error) {
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Balance{}, err
		}

		current, err := s.Store.ReadBalance(ctx, accountID)
		if err != nil {
			return domain.Balance{}, storageErr("read balance", err)
		}

		next, err := compute(current.Amount)
		if err != nil {
			return domain.Balance{}, err
		}

		write := domain.BalanceWrite{
			AccountID:       accountID,
			Amount:          next,
			ExpectedVersion: current.Version,
		}
		if mark != nil {
			write.TransactionID = mark.transactionID
			write.FromState = mark.from
			write.ToState = mark.to
		}

		written, err := s.Store.WriteBalanceIfVersion(ctx, write)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.Balance{}, storageErr("write balance", err)
		}

		s.logger.Debug("balance version conflict, retrying",
			zap.String("account_id", accountID),
			zap.Int("attempt", attempt+1),
			zap.Int64("expected_version", current.Version))

		if attempt+1 == s.config.MaxAttempts {
			break
		}
		delay := backoff.Capped(backoff.ExponentialWithJitter(s.config.RetryBase, attempt), maxRetryDelay)
		if err := s.sleep(ctx, delay); err != nil {
			return domain.Balance{}, err
		}
	}

	return domain.Balance{}, &domain.ConcurrencyError{AccountID: accountID, Attempts: s.config.MaxAttempts}
}
