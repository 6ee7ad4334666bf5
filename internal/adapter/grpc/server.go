package grpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/financik-backend/internal/domain"
	"github.com/simaogato/financik-backend/internal/usecase/category"
	"github.com/simaogato/financik-backend/internal/usecase/ledger"
	"github.com/simaogato/financik-backend/internal/usecase/summary"
)

// Server implements the LedgerService gRPC server
type Server struct {
	LedgerService   *ledger.LedgerService
	SummaryService  *summary.SummaryService
	CategoryService *category.CategoryService

	logger *zap.Logger
	now    func() time.Time
}

var _ LedgerServiceServer = (*Server)(nil)

// NewServer creates a new gRPC server instance
func NewServer(
	ledgerService *ledger.LedgerService,
	summaryService *summary.SummaryService,
	categoryService *category.CategoryService,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		LedgerService:   ledgerService,
		SummaryService:  summaryService,
		CategoryService: categoryService,
		logger:          logger.With(zap.String("component", "grpc")),
		now:             time.Now,
	}
}

func accountFrom(ctx context.Context) (string, error) {
	accountID, ok := AccountIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.InvalidArgument, "missing "+AccountHeader+" header")
	}
	return accountID, nil
}

// OpenAccount handles the OpenAccount RPC
// A new account is seeded with the default categories.
func (s *Server) OpenAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	account, err := s.LedgerService.OpenAccount(ctx, accountID, requestFields(req).str("name"))
	if err != nil {
		return nil, mapError(err)
	}

	if err := s.CategoryService.SeedDefaults(ctx, accountID); err != nil {
		// The account exists; categories can be added later
		s.logger.Warn("failed to seed default categories", zap.String("account_id", accountID), zap.Error(err))
	}

	return newResponse(map[string]interface{}{
		"account_id": account.ID,
		"name":       account.Name,
		"balance":    account.Balance.String(),
		"version":    account.Version,
	})
}

// Apply handles the Apply RPC
func (s *Server) Apply(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := requestFields(req)

	kind, err := domain.ParseKind(f.str("kind"))
	if err != nil {
		return nil, mapError(err)
	}

	amount, err := f.money("amount")
	if err != nil {
		return nil, err
	}

	// occurred_on defaults to today
	occurredOn := domain.DateOf(s.now())
	if f.str("occurred_on") != "" {
		if occurredOn, err = f.date("occurred_on"); err != nil {
			return nil, err
		}
	}

	result, err := s.LedgerService.Apply(ctx, accountID, domain.Transaction{
		AccountID:  accountID,
		Kind:       kind,
		Amount:     amount,
		Category:   f.str("category"),
		Title:      f.str("title"),
		OccurredOn: occurredOn,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"transaction": transactionToMap(result.Transaction),
		"balance":     result.Balance.String(),
	})
}

// Retract handles the Retract RPC
func (s *Server) Retract(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	transactionID := requestFields(req).str("transaction_id")
	if transactionID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing transaction_id")
	}

	balance, err := s.LedgerService.Retract(ctx, accountID, transactionID)
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"balance": balance.String(),
	})
}

// SetBalance handles the SetBalance RPC
func (s *Server) SetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	amount, err := requestFields(req).money("amount")
	if err != nil {
		return nil, err
	}

	balance, err := s.LedgerService.SetBalance(ctx, accountID, amount)
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"balance": balance.String(),
	})
}

// GetBalance handles the GetBalance RPC
func (s *Server) GetBalance(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	view, err := s.LedgerService.Balance(ctx, accountID)
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"account_id": view.AccountID,
		"balance":    view.Amount.String(),
		"stale":      view.Stale,
	})
}

// QueryByDateRange handles the QueryByDateRange RPC
func (s *Server) QueryByDateRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := requestFields(req)

	from, err := f.date("from")
	if err != nil {
		return nil, err
	}
	to, err := f.date("to")
	if err != nil {
		return nil, err
	}

	txs, err := s.LedgerService.QueryByDateRange(ctx, accountID, from, to)
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"transactions": transactionsToList(txs),
	})
}

// DailySummary handles the DailySummary RPC
func (s *Server) DailySummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	date, err := requestFields(req).date("date")
	if err != nil {
		return nil, err
	}

	daily, err := s.SummaryService.Daily(ctx, accountID, date)
	if err != nil {
		return nil, mapError(err)
	}

	resp := totalsToMap(daily.Totals)
	resp["date"] = daily.Date.ISO()
	resp["transactions"] = transactionsToList(daily.Transactions)
	return newResponse(resp)
}

// MonthlyHistory handles the MonthlyHistory RPC
func (s *Server) MonthlyHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := requestFields(req)

	year, err := f.integer("year")
	if err != nil {
		return nil, err
	}
	month, err := f.integer("month")
	if err != nil {
		return nil, err
	}

	history, err := s.SummaryService.Monthly(ctx, accountID, year, time.Month(month))
	if err != nil {
		return nil, mapError(err)
	}

	resp := totalsToMap(history.Totals)
	resp["year"] = history.Year
	resp["month"] = int(history.Month)
	resp["transactions"] = transactionsToList(history.Transactions)
	return newResponse(resp)
}

// AddCategory handles the AddCategory RPC
func (s *Server) AddCategory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	name, err := s.CategoryService.Add(ctx, accountID, requestFields(req).str("name"))
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"name": name,
	})
}

// ListCategories handles the ListCategories RPC
func (s *Server) ListCategories(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := accountFrom(ctx)
	if err != nil {
		return nil, err
	}

	names, err := s.CategoryService.List(ctx, accountID)
	if err != nil {
		return nil, mapError(err)
	}

	return newResponse(map[string]interface{}{
		"categories": stringsToList(names),
	})
}

func totalsToMap(t summary.Totals) map[string]interface{} {
	return map[string]interface{}{
		"income":  t.Income.String(),
		"expense": t.Expense.String(),
		"net":     t.Net.String(),
	}
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	errorMsg := err.Error()

	var partial *domain.PartialFailure
	var concurrency *domain.ConcurrencyError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)
	case errors.Is(err, domain.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s", errorMsg)
	case errors.As(err, &partial):
		// The message names the transaction so the caller can retry the missing half
		return status.Errorf(codes.FailedPrecondition, "transaction_id=%s: %s", partial.TransactionID, errorMsg)
	case errors.As(err, &concurrency):
		if concurrency.TransactionID != "" {
			return status.Errorf(codes.Aborted, "transaction_id=%s: %s", concurrency.TransactionID, errorMsg)
		}
		return status.Errorf(codes.Aborted, "%s", errorMsg)
	case errors.Is(err, domain.ErrStorage):
		return status.Errorf(codes.Unavailable, "%s", errorMsg)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s", errorMsg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s", errorMsg)
	}

	// Default to Internal error for unknown errors
	return status.Errorf(codes.Internal, "%s", errorMsg)
}
