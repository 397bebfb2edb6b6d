package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/ledgerline/dispatch/internal/config"
	"github.com/ledgerline/dispatch/internal/domain"
	"github.com/ledgerline/dispatch/internal/handler"
	"github.com/ledgerline/dispatch/internal/infra/postgresql"
	"github.com/ledgerline/dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/ledgerline/dispatch/internal/infra/redis"
	"github.com/ledgerline/dispatch/internal/observability"
	"github.com/ledgerline/dispatch/internal/provider"
	"github.com/ledgerline/dispatch/internal/queue"
	"github.com/ledgerline/dispatch/internal/repository"
	"github.com/ledgerline/dispatch/internal/service"
	"github.com/ledgerline/dispatch/internal/transport"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "dispatch-api")
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

	events := repository.NewGormEventRepo(db)
	endpoints := repository.NewGormEndpointRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	notifications := repository.NewGormNotificationRepo(db)
	preferences := repository.NewGormPreferenceRepo(db)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.EndpointRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(
		events,
		endpoints,
		deliveries,
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

	endpointService, err := service.NewEndpointService(endpoints, deliveries, logger)
	if err != nil {
		logger.Fatal("endpoint service initialization failed", zap.Error(err))
	}

	notifier, err := service.NewNotifier(
		notifications,
		preferences,
		newDirectory(cfg, logger),
		newSenders(cfg, logger),
		logger,
	)
	if err != nil {
		logger.Fatal("notifier initialization failed", zap.Error(err))
	}
	notifier.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())(c.Context())
		return nil
	})

	if err := handler.RegisterEndpointRoutes(app, endpointService, dispatcher); err != nil {
		logger.Fatal("failed to register endpoint routes", zap.Error(err))
	}
	if err := handler.RegisterNotificationRoutes(app, notifier); err != nil {
		logger.Fatal("failed to register notification routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := app.Shutdown(); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("dispatch api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(":" + strconv.Itoa(cfg.APIPort)); err != nil {
		logger.Fatal("api server stopped", zap.Error(err))
	}
}

func newDirectory(cfg *config.Config, logger *zap.Logger) provider.RecipientDirectory {
	if cfg.DirectoryURL == "" {
		return nil
	}
	directory, err := provider.NewHTTPDirectory(cfg.DirectoryURL)
	if err != nil {
		logger.Fatal("directory initialization failed", zap.Error(err))
	}
	return directory
}

func newSenders(cfg *config.Config, logger *zap.Logger) map[domain.Channel]provider.Sender {
	relays := map[domain.Channel]string{
		domain.ChannelEmail: cfg.EmailRelayURL,
		domain.ChannelSMS:   cfg.SMSRelayURL,
		domain.ChannelPush:  cfg.PushRelayURL,
	}

	senders := make(map[domain.Channel]provider.Sender, len(relays))
	for channel, endpoint := range relays {
		if endpoint == "" {
			continue
		}
		sender, err := provider.NewRelaySender(channel, endpoint)
		if err != nil {
			logger.Fatal("relay sender initialization failed",
				zap.String("channel", channel.String()),
				zap.Error(err),
			)
		}
		senders[channel] = sender
	}
	return senders
}
