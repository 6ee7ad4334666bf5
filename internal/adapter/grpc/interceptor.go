package grpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AccountHeader carries the account every call acts on
const AccountHeader = "x-account-id"

type accountKey struct{}

// WithAccountID returns a context carrying accountID
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

// AccountIDFromContext returns the account placed on ctx by AuthInterceptor
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountKey{}).(string)
	return id, ok && id != ""
}

// AuthInterceptor returns a gRPC unary server interceptor that validates
// the authorization token and the account header from request metadata.
// A missing or invalid token is Unauthenticated, a missing account is InvalidArgument.
// If valid, it calls the handler with the account ID on the context.
func AuthInterceptor(validToken string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		token := strings.TrimPrefix(authHeaders[0], "Bearer ")
		if token != validToken {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		accounts := md.Get(AccountHeader)
		if len(accounts) == 0 || strings.TrimSpace(accounts[0]) == "" {
			return nil, status.Error(codes.InvalidArgument, "missing "+AccountHeader+" header")
		}

		return handler(WithAccountID(ctx, strings.TrimSpace(accounts[0])), req)
	}
}

// LoggingInterceptor logs every unary call with its duration and status code
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		}
		if accountID, ok := AccountIDFromContext(ctx); ok {
			fields = append(fields, zap.String("account_id", accountID))
		}

		switch status.Code(err) {
		case codes.OK, codes.InvalidArgument, codes.NotFound:
			logger.Debug("rpc", fields...)
		case codes.Internal, codes.Unavailable:
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		default:
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
