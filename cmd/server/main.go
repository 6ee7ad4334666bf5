package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/simaogato/financik-backend/internal/adapter/cache"
	"github.com/simaogato/financik-backend/internal/adapter/events"
	grpcadapter "github.com/simaogato/financik-backend/internal/adapter/grpc"
	"github.com/simaogato/financik-backend/internal/adapter/repository/memory"
	"github.com/simaogato/financik-backend/internal/adapter/repository/mongo"
	"github.com/simaogato/financik-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/financik-backend/internal/adapter/repository/sqlite"
	"github.com/simaogato/financik-backend/internal/config"
	"github.com/simaogato/financik-backend/internal/domain"
	"github.com/simaogato/financik-backend/internal/logging"
	"github.com/simaogato/financik-backend/internal/usecase/category"
	"github.com/simaogato/financik-backend/internal/usecase/ledger"
	"github.com/simaogato/financik-backend/internal/usecase/reconciler"
	"github.com/simaogato/financik-backend/internal/usecase/summary"
)

const shutdownTimeout = 10 * time.Second

// publisher is an event publisher that holds a connection
type publisher interface {
	domain.EventPublisher
	Close() error
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	addr := ":" + cfg.GRPCPort
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer lis.Close()
	return serve(ctx, cfg, logger, lis)
}

// serve wires the configured backends and serves gRPC on lis until ctx is done
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, lis net.Listener) error {
	// 1. Setup storage
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// 2. Balance cache and event publisher
	g, gctx := errgroup.WithContext(ctx)

	var balanceCache domain.BalanceCache
	switch cfg.CacheBackend {
	case "redis":
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPass)
		defer client.Close()
		balanceCache = cache.NewRedisBalanceCache(client, cfg.CacheTTL, logger)
	default:
		local := cache.NewLocalBalanceCache(cfg.CacheSize, cfg.CacheTTL, logger)
		g.Go(func() error { return local.RunCleaner(gctx, cfg.CacheTTL) })
		balanceCache = local
	}

	pub, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	// 3. Initialize services (use cases)
	ledgerService := ledger.NewLedgerService(store, store,
		ledger.WithCache(balanceCache),
		ledger.WithPublisher(pub),
		ledger.WithLogger(logger),
		ledger.WithConfig(ledger.Config{
			MaxAttempts: cfg.LedgerMaxAttempts,
			RetryBase:   cfg.LedgerRetryBase,
		}),
	)
	summaryService := summary.NewSummaryService(store)
	categoryService := category.NewCategoryService(store)

	rec := reconciler.NewReconciler(store, ledgerService, logger)
	rec.BatchSize = cfg.ReconcileBatchSize
	rec.Concurrency = cfg.ReconcileConcurrency

	// 4. Start gRPC server with AuthInterceptor
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(logger),
			grpcadapter.AuthInterceptor(cfg.APIToken),
		),
	)
	grpcadapter.RegisterLedgerServiceServer(grpcServer,
		grpcadapter.NewServer(ledgerService, summaryService, categoryService, logger))
	reflection.Register(grpcServer)

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()), zap.String("backend", cfg.DataBackend))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpclib.ErrServerStopped) {
			return fmt.Errorf("failed to serve gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return rec.Run(gctx, cfg.ReconcileInterval)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		stopGracefully(grpcServer, shutdownTimeout)
		return nil
	})

	return g.Wait()
}

// openStore connects the configured backend and applies its migrations
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, error) {
	switch cfg.DataBackend {
	case "postgres":
		connStr := cfg.PostgresConnStr()
		if err := postgres.RunMigrations(connStr); err != nil {
			return nil, err
		}
		db, err := postgres.NewDB(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.NewStore(db), nil
	case "sqlite":
		return sqlite.NewStore(cfg.SQLiteDBPath)
	case "mongo":
		return mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.NewStore(), nil
	}
}

func openPublisher(cfg *config.Config) (publisher, error) {
	switch cfg.EventsBackend {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "amqp":
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return events.NopPublisher{}, nil
	}
}

// stopGracefully drains in-flight RPCs, forcing a stop after timeout
func stopGracefully(server *grpclib.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}
