package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/app"
	"github.com/kursadbilgin/docflow-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/docflow-engine/internal/provider"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/service"
	"github.com/kursadbilgin/docflow-engine/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	requeueInterval = time.Minute
	requeueLimit    = 500
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, "docflow-worker", postgresql.PoolOptions{})
	if err != nil {
		log.Fatalf("worker bootstrap failed: %v", err)
	}
	defer rt.Close()
	logger := rt.Logger
	cfg := rt.Config

	// One connection per consumer goroutine plus headroom for completion writes.
	rt.SQLDB.SetMaxOpenConns(cfg.WorkerConcurrency + 5)

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	// Each consumer goroutine handles one message at a time.
	consumer := queue.NewRabbitMQConsumer(broker, 1, logger)
	defer consumer.Close()

	fileStorage, err := storage.NewS3Storage(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Endpoint)
	if err != nil {
		logger.Fatal("s3 storage initialization failed", zap.Error(err))
	}

	processor, err := provider.NewHTTPDocumentProcessor(cfg.DocumentProcessorURL)
	if err != nil {
		logger.Fatal("document processor initialization failed", zap.Error(err))
	}

	coordinator, err := rt.NewCoordinator(publisher)
	if err != nil {
		logger.Fatal("batch coordinator initialization failed", zap.Error(err))
	}

	files := repository.NewGormFileRepo(rt.DB)
	worker, err := service.NewFileWorker(
		files,
		repository.NewGormBatchRepo(rt.DB),
		fileStorage,
		processor,
		coordinator,
		consumer,
		service.FileWorkerOptions{
			Concurrency:              cfg.WorkerConcurrency,
			RecordResultsAfterCancel: cfg.RecordResultsAfterCancel,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("file worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(rt.Metrics)

	requeuer, err := service.NewFileRequeuer(files, publisher, requeueInterval, cfg.RequeueAfter, requeueLimit, logger)
	if err != nil {
		logger.Fatal("file requeuer initialization failed", zap.Error(err))
	}

	logger.Info("docflow worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Strings("queues", queue.WorkQueueNames()),
		zap.Strings("deadLetterQueues", queue.DLQNames()),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return requeuer.Start(groupCtx) })
	g.Go(func() error { return rt.ServeMetrics(groupCtx) })

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("docflow worker stopped")
}
