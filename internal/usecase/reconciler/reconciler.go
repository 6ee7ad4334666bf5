package reconciler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/financik-backend/internal/domain"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// Ledger is the part of the balance ledger the reconciler drives
type Ledger interface {
	Settle(ctx context.Context, accountID, transactionID string) (domain.Money, error)
	Retract(ctx context.Context, accountID, transactionID string) (domain.Money, error)
}

// UnsettledLister lists records that a crashed or cancelled operation left behind
type UnsettledLister interface {
	ListUnsettled(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// Report summarises one reconciliation pass
type Report struct {
	Settled   int
	Retracted int
	Failed    int
}

// Reconciler finishes Posted and Retracting transactions
type Reconciler struct {
	Store  UnsettledLister
	Ledger Ledger

	BatchSize   int
	Concurrency int

	logger *zap.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(store UnsettledLister, ledger Ledger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		Store:       store,
		Ledger:      ledger,
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		logger:      logger.With(zap.String("component", "reconciler")),
	}
}

// RunOnce reconciles one batch of unsettled transactions
// Logic:
//  1. List up to BatchSize Posted/Retracting records, oldest first
//  2. Posted -> Settle (applies the delta once, the state marker guards against doubles)
//  3. Retracting -> Retract (deletes without adjusting the balance again)
//
// Per-record failures are counted and logged; only a failed listing aborts the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	txs, err := r.Store.ListUnsettled(ctx, r.BatchSize)
	if err != nil {
		return Report{}, err
	}
	if len(txs) == 0 {
		return Report{}, nil
	}

	results := make([]domain.TransactionState, len(txs))
	failed := make([]bool, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i, tx := range txs {
		g.Go(func() error {
			var err error
			switch tx.State {
			case domain.StatePosted:
				_, err = r.Ledger.Settle(gctx, tx.AccountID, tx.ID)
			case domain.StateRetracting:
				_, err = r.Ledger.Retract(gctx, tx.AccountID, tx.ID)
			default:
				return nil
			}

			// the record was finished or removed by someone else meanwhile
			if errors.Is(err, domain.ErrNotFound) {
				err = nil
			}
			if err != nil {
				failed[i] = true
				r.logger.Warn("failed to reconcile transaction",
					zap.String("account_id", tx.AccountID),
					zap.String("transaction_id", tx.ID),
					zap.String("state", string(tx.State)),
					zap.Error(err))
				return nil
			}
			results[i] = tx.State
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var report Report
	for i := range txs {
		switch {
		case failed[i]:
			report.Failed++
		case results[i] == domain.StatePosted:
			report.Settled++
		case results[i] == domain.StateRetracting:
			report.Retracted++
		}
	}

	r.logger.Info("reconciliation pass finished",
		zap.Int("settled", report.Settled),
		zap.Int("retracted", report.Retracted),
		zap.Int("failed", report.Failed))
	return report, ctx.Err()
}

// Run reconciles every interval until ctx is done
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("reconciliation pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
