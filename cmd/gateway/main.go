package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/kursadbilgin/throttle-sync/internal/config"
	"github.com/kursadbilgin/throttle-sync/internal/handler"
	infraredis "github.com/kursadbilgin/throttle-sync/internal/infra/redis"
	"github.com/kursadbilgin/throttle-sync/internal/observability"
	"github.com/kursadbilgin/throttle-sync/internal/queue"
	"github.com/kursadbilgin/throttle-sync/internal/service"
	"github.com/kursadbilgin/throttle-sync/internal/throttle"
	"github.com/kursadbilgin/throttle-sync/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logger = logger.With(zap.String("nodeId", nodeID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := connectBus(cfg, nodeID, logger)
	if err != nil {
		logger.Fatal("message bus initialization failed", zap.Error(err))
	}
	defer bus.close()

	metrics := observability.NewMetrics()
	store := throttle.NewStore(throttle.WithClearPolicy(cfg.ClearPolicy()))

	listener, err := service.NewEventListener(store, bus.consumer, bus.concurrency, logger)
	if err != nil {
		logger.Fatal("throttle listener initialization failed", zap.Error(err))
	}
	listener.SetMetrics(metrics)

	sweeper, err := service.NewExpirySweeper(store, cfg.SweepInterval(), logger)
	if err != nil {
		logger.Fatal("expiry sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, bus.checks)
	if err := handler.RegisterThrottleRoutes(app, store); err != nil {
		logger.Fatal("throttle routes registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Start(groupCtx)
	})
	g.Go(func() error {
		return sweeper.Start(groupCtx)
	})
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(cfg.ShutdownTimeout())
	})

	logger.Info("throttle-sync gateway started",
		zap.Int("port", cfg.APIPort),
		zap.String("busDriver", cfg.Driver().String()),
		zap.String("clearPolicy", store.ClearPolicy().String()),
		zap.Duration("sweepInterval", cfg.SweepInterval()),
	)

	if err := g.Wait(); err != nil {
		logger.Error("throttle-sync gateway stopped with error", zap.Error(err))
		return
	}
	logger.Info("throttle-sync gateway stopped")
}

type busConnection struct {
	consumer    queue.Consumer
	concurrency int
	checks      map[string]handler.HealthCheck
	close       func()
}

func connectBus(cfg *config.Config, nodeID string, logger *zap.Logger) (*busConnection, error) {
	switch cfg.Driver() {
	case queue.DriverRabbitMQ:
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.ThrottleExchange)
		if err != nil {
			return nil, err
		}
		queueName := queue.NodeQueueName(cfg.ThrottleExchange, nodeID)
		return &busConnection{
			consumer:    queue.NewRabbitMQConsumer(rmq, queueName, cfg.ListenerPrefetch, logger),
			concurrency: cfg.ListenerConcurrency,
			checks:      map[string]handler.HealthCheck{"rabbitmq": rmq.Ping},
			close: func() {
				if err := rmq.Close(); err != nil {
					logger.Warn("failed to close rabbitmq connection", zap.Error(err))
				}
			},
		}, nil

	case queue.DriverRedis:
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		consumer, err := queue.NewRedisConsumer(rdb, cfg.RedisChannel, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		if cfg.ListenerConcurrency > 1 {
			// Every pub/sub subscriber receives every message.
			logger.Warn("redis bus driver runs a single listener",
				zap.Int("configuredConcurrency", cfg.ListenerConcurrency),
			)
		}
		return &busConnection{
			consumer:    consumer,
			concurrency: 1,
			checks:      map[string]handler.HealthCheck{"redis": infraredis.Ping(rdb)},
			close: func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("failed to close redis client", zap.Error(err))
				}
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported bus driver %q", cfg.BusDriver)
}
