// Package app wires the infrastructure shared by the api, worker and scheduler binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/docflow-engine/internal/config"
	"github.com/kursadbilgin/docflow-engine/internal/crypto"
	"github.com/kursadbilgin/docflow-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/docflow-engine/internal/infra/redis"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/provider"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ShutdownTimeout bounds graceful shutdown of every binary.
const ShutdownTimeout = 10 * time.Second

// Runtime holds the connections every binary opens at startup.
type Runtime struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *gorm.DB
	SQLDB   *sql.DB
	Redis   *goredis.Client
	Metrics *observability.Metrics
	Box     *crypto.Box
}

// Bootstrap loads configuration (including a local .env file when present) and opens
// Postgres and Redis.
func Bootstrap(ctx context.Context, serviceName string, pool postgresql.PoolOptions) (*Runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(serviceName, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	box, err := crypto.NewBox(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, pool)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		SQLDB:   sqlDB,
		Redis:   rdb,
		Metrics: observability.NewMetrics(),
		Box:     box,
	}, nil
}

func (r *Runtime) Close() {
	if err := r.Redis.Close(); err != nil {
		r.Logger.Warn("redis close failed", zap.Error(err))
	}
	if err := r.SQLDB.Close(); err != nil {
		r.Logger.Warn("postgres close failed", zap.Error(err))
	}
	_ = r.Logger.Sync()
}

// NewDispatcher builds the webhook dispatcher: Redis-backed rate limiting, OAuth2
// tokens cached in Redis and credentials opened with the configured key.
func (r *Runtime) NewDispatcher() (*service.Dispatcher, error) {
	limiter, err := infraredis.NewRedisRateLimiter(r.Redis, r.Config.RateLimitPerSec)
	if err != nil {
		return nil, err
	}
	tokenCache, err := infraredis.NewTokenCache(r.Redis)
	if err != nil {
		return nil, err
	}

	sender := provider.NewWebhookClient(provider.NewClientCredentialsTokenSource(tokenCache, r.Logger))
	dispatcher, err := service.NewDispatcher(sender, r.Box, limiter, r.Logger)
	if err != nil {
		return nil, err
	}
	dispatcher.SetMetrics(r.Metrics)
	return dispatcher, nil
}

func (r *Runtime) Backoff() service.Backoff {
	return service.NewBackoff(r.Config.RetryBaseDelay, r.Config.RetryMaxDelay)
}

// NewCoordinator builds the batch coordinator together with the webhook notifier it
// emits batch events through.
func (r *Runtime) NewCoordinator(publisher queue.Publisher) (*service.BatchCoordinator, error) {
	dispatcher, err := r.NewDispatcher()
	if err != nil {
		return nil, err
	}

	notifier, err := service.NewWebhookNotifier(
		repository.NewGormWebhookRepo(r.DB),
		repository.NewGormDeliveryRepo(r.DB),
		dispatcher,
		r.Backoff(),
		r.Config.WorkerConcurrency,
		r.Logger,
	)
	if err != nil {
		return nil, err
	}
	notifier.SetMetrics(r.Metrics)

	coordinator, err := service.NewBatchCoordinator(
		repository.NewGormBatchRepo(r.DB),
		repository.NewGormFileRepo(r.DB),
		repository.NewGormTemplateRepo(r.DB),
		publisher,
		notifier,
		r.Config.MaxBatchFiles,
		r.Logger,
	)
	if err != nil {
		return nil, err
	}
	coordinator.SetMetrics(r.Metrics)
	return coordinator, nil
}

// ServeMetrics exposes the Prometheus registry on the metrics port until ctx is done.
// The api binary serves /metrics from its own router instead.
func (r *Runtime) ServeMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Metrics.Handler())

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(r.Config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
