package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosme-inventory/config"
	"cosme-inventory/internal/agent"
	"cosme-inventory/internal/api"
	"cosme-inventory/internal/auth"
	"cosme-inventory/internal/broker"
	"cosme-inventory/internal/fsstore"
	"cosme-inventory/internal/models"
	"cosme-inventory/internal/redisclient"
	"cosme-inventory/internal/service"
	"cosme-inventory/internal/store"
	"cosme-inventory/internal/util"
	"cosme-inventory/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// backend is what both the SQL and the Firestore stores provide
type backend interface {
	models.Repository
	models.EventLedger
	Ping(ctx context.Context) error
	Close() error
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	switch cfg.Backend {
	case "postgres":
		return store.NewStore("postgres", cfg.DatabaseURL)
	case "sqlite":
		return store.NewStore("sqlite", cfg.SQLiteDSN)
	case "firestore":
		return fsstore.NewStore(ctx, cfg.FirestoreProjectID, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting cosme inventory service")

	tp, err := util.InitTracer(util.TracingOptions{
		ServiceName: "cosme-inventory",
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := openBackend(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer db.Close()
	logger.Info("Store connected", zap.String("backend", cfg.Store.Backend))

	checks := map[string]api.Pinger{"store": db}

	var (
		locker service.Locker = service.NewLocalLocker()
		idem   service.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
		locker = redisClient
		idem = redisClient
		checks["redis"] = redisClient
	} else {
		logger.Warn("REDIS_ADDR not set; using in-process locks and no idempotency keys")
	}

	var publisher service.EventPublisher = service.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var scanner service.Scanner
	if cfg.Scan.ServiceURL != "" {
		scanner = agent.NewClient(cfg.Scan.ServiceURL, cfg.Scan.APIKey, cfg.Scan.Timeout)
	}

	inventoryService := service.NewInventoryService(db, publisher, idem, scanner, service.Options{
		MarketplaceDomains: cfg.Inventory.MarketplaceDomains,
		LegacyWrites:       cfg.Inventory.LegacyWrites,
		IdempotencyTTL:     cfg.Inventory.IdempotencyTTL,
	})
	migrationJob := service.NewMigrationJob(db, locker, publisher, db,
		cfg.Inventory.MigrationBatchSize, cfg.Inventory.MarketplaceDomains)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var migrationWorker *worker.MigrationWorker
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory, cfg.Kafka.ConsumerGroup)
		migrationWorker = worker.NewMigrationWorker(consumer, migrationJob)
		go func() {
			if err := migrationWorker.Start(workerCtx); err != nil {
				logger.Error("Migration worker error", zap.Error(err))
			}
		}()
	}

	resolver, err := auth.NewResolver(ctx, cfg.Auth.Mode, cfg.Auth.JWTSecret,
		cfg.Auth.FirebaseProjectID, cfg.Store.CredentialsFile, cfg.Auth.SessionCookieName)
	if err != nil {
		logger.Fatal("Failed to initialize auth", zap.String("mode", cfg.Auth.Mode), zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(inventoryService, migrationJob, resolver, checks)
	handler.SetupRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", "X-User-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: corsHandler.Handler(router),
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if migrationWorker != nil {
		migrationWorker.Stop()
	}

	logger.Info("Server exited")
}
