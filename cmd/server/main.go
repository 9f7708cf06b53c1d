package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	httpAdapter "github.com/iho/kvledger/internal/adapter/http"
	"github.com/iho/kvledger/internal/adapter/http/handler"
	"github.com/iho/kvledger/internal/adapter/http/middleware"
	"github.com/iho/kvledger/internal/adapter/repository/kv"
	kvdynamo "github.com/iho/kvledger/internal/adapter/repository/kv/dynamo"
	"github.com/iho/kvledger/internal/adapter/repository/kv/memory"
	kvpostgres "github.com/iho/kvledger/internal/adapter/repository/kv/postgres"
	redisRepo "github.com/iho/kvledger/internal/adapter/repository/redis"
	"github.com/iho/kvledger/internal/infrastructure/config"
	"github.com/iho/kvledger/internal/infrastructure/dynamo"
	"github.com/iho/kvledger/internal/infrastructure/logger"
	"github.com/iho/kvledger/internal/infrastructure/metrics"
	"github.com/iho/kvledger/internal/infrastructure/postgres"
	"github.com/iho/kvledger/internal/infrastructure/redis"
	"github.com/iho/kvledger/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx := context.Background()

	store, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to initialize storage")
	}
	defer cleanup()
	log.Info().Str("backend", cfg.StorageBackend).Msg("storage ready")

	m := metrics.New()
	instrumented := kv.Instrument(kv.WithTimeout(store, cfg.StorageOpTimeout), cfg.StorageBackend, m)

	index := cfg.DynamoIndex
	repo := kv.NewLedgerRepository(instrumented, index)
	retrier := kv.NewRetrier(cfg.PushMaxAttempts).OnRetry(func() {
		m.CommitRetries.Inc()
	})

	pushUC := usecase.NewPushUseCase(repo, retrier, m).
		WithParallelism(cfg.PushParallelism).
		WithTimeout(cfg.RequestTimeout)
	deleteUC := usecase.NewDeleteUseCase(repo, retrier, m).
		WithParallelism(cfg.PushParallelism).
		WithTimeout(cfg.RequestTimeout)
	queryUC := usecase.NewQueryUseCase(repo)
	verifyUC := usecase.NewVerifyUseCase(repo)

	// Redis is optional; without it idempotency replay is off.
	var redisClient *goredis.Client
	var idempotencyStore usecase.IdempotencyStore
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
		log.Info().Msg("connected to redis")
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		LedgerHandler:      handler.NewLedgerHandler(pushUC, deleteUC, queryUC, verifyUC),
		HealthHandler:      handler.NewHealthHandler(instrumented, redisClient),
		Logger:             log,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		IdempotencyStore:   idempotencyStore,
		IdempotencyTTL:     cfg.IdempotencyTTL,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// newStore builds the kv.Store selected by STORAGE_BACKEND. The cleanup
// function releases backend resources on shutdown.
func newStore(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return memory.New(), func() {}, nil

	case config.BackendDynamo:
		client, err := dynamo.NewClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		store := kvdynamo.New(client, cfg.DynamoTable)
		if err := store.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("dynamo table %q unreachable: %w", cfg.DynamoTable, err)
		}
		return store, func() {}, nil

	case config.BackendPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
		if err != nil {
			return nil, nil, err
		}
		return kvpostgres.New(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
