package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/catalog"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/session"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "storefront"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	shutdownTracer, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders, err := openOrderStore(ctx, cfg.Orders)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.Error(err))
	}
	defer orders.Close()
	logger.Info("Order store connected", zap.String("backend", cfg.Orders.Backend))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
	sessions := session.NewManager(catalogClient)
	orderService := service.NewOrderService(
		orders,
		broker.NewEventPublisher(producer),
		redisClient,
		cfg.Redis.IdempotencyTTL,
	)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	confirmationWorker := worker.NewConfirmationWorker(consumer, orders)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(sessions, catalogClient, orderService, orders)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := confirmationWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("confirmation worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sessions.RunSweeper(gctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		return confirmationWorker.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Storefront stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openOrderStore connects the configured order backend. Postgres schemas are
// migrated before use.
func openOrderStore(ctx context.Context, cfg config.OrderStoreConfig) (store.OrderRepository, error) {
	if cfg.Backend == config.OrderStoreMongo {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mongoStore, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return mongoStore, nil
	}

	db, err := store.NewStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
