package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ledgerline/dispatch/internal/config"
	"github.com/ledgerline/dispatch/internal/infra/postgresql"
	"github.com/ledgerline/dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/ledgerline/dispatch/internal/infra/redis"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/provider"
	"github.com/ledgerline/dispatch/internal/queue"
	"github.com/ledgerline/dispatch/internal/repository"
	"github.com/ledgerline/dispatch/internal/service"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "dispatch-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	metrics := observability.NewMetrics()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.EndpointRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(
		repository.NewGormEventRepo(db),
		repository.NewGormEndpointRepo(db),
		repository.NewGormDeliveryRepo(db),
		provider.NewWebhookClient(),
		queue.NewRabbitMQPublisher(mq),
		limiter,
		cfg.DispatchFanout,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)
	dispatcher.SetSink(observability.NewAuditSink(logger))

	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	worker, err := service.NewDispatchWorker(dispatcher, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dispatch worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("dispatch worker stopped", zap.Error(err))
	}

	logger.Info("dispatch worker stopped")
}
