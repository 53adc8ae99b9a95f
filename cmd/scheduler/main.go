package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/docflow-engine/internal/app"
	"github.com/kursadbilgin/docflow-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, "docflow-scheduler", postgresql.PoolOptions{MaxOpenConns: 10, MaxIdleConns: 2})
	if err != nil {
		log.Fatalf("scheduler bootstrap failed: %v", err)
	}
	defer rt.Close()
	logger := rt.Logger
	cfg := rt.Config

	dispatcher, err := rt.NewDispatcher()
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	scheduler, err := service.NewRetryScheduler(
		repository.NewGormDeliveryRepo(rt.DB),
		repository.NewGormWebhookRepo(rt.DB),
		repository.NewGormAttemptRepo(rt.DB),
		dispatcher,
		rt.Backoff(),
		service.RetrySchedulerOptions{
			Interval:    cfg.RetrySweepInterval,
			Limit:       cfg.RetrySweepLimit,
			Lease:       cfg.DeliveryLease,
			Concurrency: cfg.WorkerConcurrency,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("retry scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(rt.Metrics)

	logger.Info("docflow retry scheduler started",
		zap.Duration("interval", cfg.RetrySweepInterval),
		zap.Int("limit", cfg.RetrySweepLimit),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return rt.ServeMetrics(groupCtx) })

	if err := g.Wait(); err != nil {
		logger.Error("scheduler stopped with error", zap.Error(err))
		return
	}
	logger.Info("docflow retry scheduler stopped")
}
