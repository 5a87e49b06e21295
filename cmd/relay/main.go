package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/api"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/gateway"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/hub"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/journal"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/metrics"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/repository"
	"github.com/shubham-shewale/stock-relay/pkg/config"
)

const (
	shutdownTimeout = 10 * time.Second
	topicTimeout    = 15 * time.Second
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 3. User Store
	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open user store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer store.Close()

	// 4. Market + Relay core
	m := metrics.New()
	sim := market.NewSimulator(logger, market.NewRealRand())
	registry := hub.NewRegistry(logger)
	manager := gateway.NewManager(store, registry, m, logger)

	var sinks []hub.TickSink
	var publisher *journal.Publisher
	if cfg.Kafka.Enabled {
		publisher = newPublisher(cfg, logger)
		publisher.Start()
		sinks = append(sinks, publisher)
	}
	dispatcher := hub.NewDispatcher(sim, registry, m, logger, sinks...)

	// 5. HTTP surface
	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(store, manager, sim, market.NewRealRand(), logger)
	wsServer := gateway.NewServer(manager, logger, cfg.Gateway)
	router := api.NewRouter(handler, api.RouterDeps{
		WebSocket: wsServer.HandleWS,
		Metrics:   m.Handler(),
		StaticDir: cfg.App.StaticDir,
	}, logger)
	srv := &http.Server{Addr: cfg.App.Port, Handler: router}

	// 6. Run until signalled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("store", cfg.Store.Driver), zap.Bool("journal", cfg.Kafka.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Relay exited with error", zap.Error(err))
	}

	// The dispatcher has stopped, so nothing publishes any more. Flush the journal.
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		} else {
			logger.Info("Kafka writer closed cleanly")
		}
	}
	logger.Info("Shutdown Complete")
}

func newStore(cfg *config.Config) (repository.UserStore, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		return repository.NewRedisStore(rdb), nil
	default:
		return repository.NewFileStore(cfg.Store.Path), nil
	}
}

func newPublisher(cfg *config.Config, logger *zap.Logger) *journal.Publisher {
	creator := journal.NewTopicCreator(logger, &journal.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}, market.RealClock{})
	ctx, cancel := context.WithTimeout(context.Background(), topicTimeout)
	defer cancel()
	if err := creator.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
		// The writer still works against an auto-created topic.
		logger.Warn("Topic setup incomplete", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
		// Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
	return journal.NewPublisher(logger, writer, market.RealClock{}, cfg.Kafka.Workers)
}
