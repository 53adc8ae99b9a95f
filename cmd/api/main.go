package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/docflow-engine/internal/app"
	"github.com/kursadbilgin/docflow-engine/internal/handler"
	"github.com/kursadbilgin/docflow-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/docflow-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/docflow-engine/internal/observability"
	"github.com/kursadbilgin/docflow-engine/internal/queue"
	"github.com/kursadbilgin/docflow-engine/internal/repository"
	"github.com/kursadbilgin/docflow-engine/internal/service"
	"github.com/kursadbilgin/docflow-engine/internal/transport"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, "docflow-api", postgresql.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("api bootstrap failed: %v", err)
	}
	defer rt.Close()
	logger := rt.Logger

	if err := migrations.Migrate(rt.DB); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(rt.Config.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	coordinator, err := rt.NewCoordinator(publisher)
	if err != nil {
		logger.Fatal("batch coordinator initialization failed", zap.Error(err))
	}

	webhooks, err := service.NewWebhookService(
		repository.NewGormWebhookRepo(rt.DB),
		repository.NewGormDeliveryRepo(rt.DB),
		repository.NewGormAttemptRepo(rt.DB),
		rt.Box,
		logger,
	)
	if err != nil {
		logger.Fatal("webhook service initialization failed", zap.Error(err))
	}

	server := fiber.New(fiber.Config{
		AppName:      "docflow-api",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	server.Use(recover.New())
	server.Use(observability.CorrelationMiddleware())
	server.Use(rt.Metrics.HTTPMiddleware())
	server.Get("/metrics", adaptor.HTTPHandler(rt.Metrics.Handler()))

	handler.RegisterHealthRoutes(server, map[string]handler.HealthCheck{
		"postgres": handler.PostgresCheck(rt.SQLDB),
		"redis":    handler.RedisCheck(rt.Redis),
		"rabbitmq": broker.Ping,
	})
	if err := handler.RegisterBatchRoutes(server, coordinator); err != nil {
		logger.Fatal("batch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(server, webhooks); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := server.ShutdownWithTimeout(app.ShutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("docflow api started", zap.Int("port", rt.Config.APIPort))
	if err := server.Listen(":" + strconv.Itoa(rt.Config.APIPort)); err != nil {
		logger.Error("api server stopped", zap.Error(err))
	}
}
