package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/events"
	"marketplace/internal/logger"
	"marketplace/internal/server"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// bus is both ends of the broker the outbox relay publishes to
type bus interface {
	events.Publisher
	events.Subscriber
}

func newBus(cfg *config.Config, log *zap.Logger, topics []string) (bus, error) {
	switch cfg.Broker.Kind {
	case config.BrokerRabbitMQ:
		return events.NewRabbitBus(cfg.Broker.RabbitURL, cfg.Broker.RabbitExchange, cfg.Broker.RabbitQueue, topics, log)
	case config.BrokerKafka:
		return events.NewKafkaBus(cfg.Broker.KafkaBrokers, cfg.Broker.KafkaTopic, cfg.Broker.KafkaGroupID, log), nil
	case config.BrokerMemory:
		return events.NewMemoryBus(log), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}

	log, err := logger.New(logger.Options{
		Env:        cfg.Server.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting marketplace API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("broker", cfg.Broker.Kind),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database health check", zap.Any("health", db.Health(ctx)))

	if err := database.RunMigrations(ctx, db.DB(), cfg.Server.MigrationsDir, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database migrations completed successfully")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// rate limiting fails open; idempotent payments will report errors until redis is back
		log.Warn("Redis is not reachable", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	}

	srv, err := server.NewServer(cfg, log, db, rdb)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	router := events.NewRouter()
	router.Register(domain.TopicProductDeleted, events.NewProductDeletedConsumer(srv.Orders, log))

	broker, err := newBus(cfg, log, router.Topics())
	if err != nil {
		log.Fatal("Failed to connect to broker", zap.Error(err))
	}

	relay := events.NewRelay(srv.Outbox, broker, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		return broker.Subscribe(gctx, events.Instrument(router))
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
	}

	if err := broker.Close(); err != nil {
		log.Error("Failed to close broker", zap.Error(err))
	}
	if err := srv.Close(); err != nil {
		log.Error("Error closing server resources", zap.Error(err))
	}

	log.Info("Graceful shutdown complete")
}
