package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/config"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/handler"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/whatsapp-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/infra/sqlite"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/media"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/observability"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/queue"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/service"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/transport"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 30 * time.Second
	probeTimeout    = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatal("database initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	checks := []handler.HealthCheck{handler.DatabaseCheck(sqlDB)}

	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(cfg.RateLimitPerSec)
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
		if err != nil {
			logger.Fatal("redis rate limiter initialization failed", zap.Error(err))
		}
		checks = append(checks, handler.RedisCheck(rdb))
	}

	var publisher queue.Publisher = queue.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher = queue.NewRabbitMQPublisher(rabbit)
		checks = append(checks, handler.RabbitMQCheck(rabbit.Healthy))
	}
	defer publisher.Close() //nolint:errcheck

	metrics := observability.NewMetrics()

	registry, err := newRegistry(cfg, limiter, metrics, logger)
	if err != nil {
		logger.Fatal("whatsapp client initialization failed", zap.Error(err))
	}
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeTimeout)
	registry.ProbeAll(probeCtx)
	cancelProbe()

	messages := repository.NewGormMessageRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	resolver := media.NewResolver(repository.NewGormMediaRepo(db), nil, cfg.MediaBaseURL, logger)

	worker, err := service.NewDeliveryWorker(
		messages,
		attempts,
		registry,
		resolver,
		domain.NewPhoneNormalizer(cfg.CountryCode),
		publisher,
		cfg.DeliveryTimeout,
		logger,
	)
	if err != nil {
		logger.Fatal("delivery worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	var dispatcher service.Dispatcher = worker
	if cfg.DispatchMode == config.DispatchHTTP {
		dispatcher, err = service.NewCallbackDispatcher(cfg.AppURL, nil, cfg.DeliveryTimeout*2, logger)
		if err != nil {
			logger.Fatal("callback dispatcher initialization failed", zap.Error(err))
		}
	}

	location, err := time.LoadLocation(cfg.PollTimezone)
	if err != nil {
		logger.Fatal("invalid poll timezone", zap.String("timezone", cfg.PollTimezone), zap.Error(err))
	}
	poller, err := service.NewPoller(service.PollerConfig{
		Schedule:        cfg.PollSchedule,
		Location:        location,
		BatchLimit:      cfg.PollBatchLimit,
		Concurrency:     cfg.WorkerConcurrency,
		StaleClaimAfter: cfg.StaleClaimAfter,
	}, messages, registry, dispatcher, logger)
	if err != nil {
		logger.Fatal("poller initialization failed", zap.Error(err))
	}
	poller.SetMetrics(metrics)

	whatsappService, err := service.NewWhatsAppService(service.WhatsAppServiceConfig{
		ReadyTimeout:      cfg.ReadyTimeout,
		DirectConcurrency: cfg.WorkerConcurrency,
	}, messages, registry, worker, logger)
	if err != nil {
		logger.Fatal("whatsapp service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "whatsapp-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(transport.RequestContext())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterWhatsAppRoutes(app, whatsappService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	// Ticks must not be cancelled by the signal context, Stop drains them.
	if err := poller.Start(context.Background()); err != nil {
		logger.Fatal("poller start failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("whatsapp-dispatch api started",
		zap.Int("port", cfg.APIPort),
		zap.String("dispatchMode", cfg.DispatchMode),
		zap.String("pollSchedule", cfg.PollSchedule),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	poller.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("whatsapp-dispatch api stopped")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		return sqlite.NewSQLite(cfg.DatabaseDSN)
	default:
		return postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
	}
}

func newRegistry(
	cfg *config.Config,
	limiter ratelimit.RateLimiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*whatsapp.Registry, error) {
	sessions, err := cfg.RobotSessions()
	if err != nil {
		return nil, err
	}

	clients := make([]whatsapp.Client, 0, len(sessions))
	for _, session := range sessions {
		client, err := whatsapp.NewGatewayClient(whatsapp.GatewayConfig{
			Robot:   session.Robot,
			Session: session.Session,
			BaseURL: cfg.GatewayURL,
			Token:   cfg.GatewayToken,
			Timeout: cfg.DeliveryTimeout,
			OnStateChange: func(robot int, state whatsapp.State) {
				metrics.SetRobotReady(robot, state == whatsapp.StateReady)
			},
		}, resty.New(), limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("robot %d: %w", session.Robot, err)
		}
		metrics.SetRobotReady(session.Robot, false)
		clients = append(clients, client)
	}

	return whatsapp.NewRegistry(logger, clients...)
}
