package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/internal/cache"
	"github.com/labreserve/service-booking/internal/config"
	"github.com/labreserve/service-booking/internal/domain/unitofwork"
	bookingEvents "github.com/labreserve/service-booking/internal/events"
	"github.com/labreserve/service-booking/internal/handler"
	"github.com/labreserve/service-booking/internal/repository"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/database"
	"github.com/labreserve/service-booking/pkg/health"
	"github.com/labreserve/service-booking/pkg/kafka"
	"github.com/labreserve/service-booking/pkg/logger"
	"github.com/labreserve/service-booking/pkg/metrics"
	"github.com/labreserve/service-booking/pkg/middleware"
)

const serviceName = "service-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("storage", cfg.StorageDriver),
	)

	// Storage
	store, db := openStore(cfg, log)

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Availability cache is optional
	var availabilityCache application.AvailabilityCache
	if cfg.RedisConfig.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer func() { _ = rdb.Close() }()

		c := cache.NewAvailabilityCache(rdb, cfg.RedisConfig.TTL)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.Ping(pingCtx); err != nil {
			log.Warn("availability cache unreachable, serving uncached reads", zap.Error(err))
		} else {
			availabilityCache = c
			log.Info("availability cache enabled", zap.String("addr", cfg.RedisConfig.Addr))
		}
		pingCancel()
	}

	// Initialize Kafka producer
	var publisher application.EventPublisher
	if len(cfg.KafkaConfig.Brokers) > 0 {
		kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
		defer func() { _ = kafkaProducer.Close() }()
		publisher = kafkaProducer
	}

	// Initialize application services
	notifier := application.NewNotifier(publisher, availabilityCache, bookingMetrics, log)
	ledger := application.NewStockLedger(store, notifier, bookingMetrics, log)
	bookingService := application.NewBookingService(
		store,
		application.NewValidator(),
		ledger,
		notifier,
		bookingMetrics,
		log,
	)
	intervalService := application.NewIntervalService(store, notifier, log)
	directoryService := application.NewDirectoryService(store, notifier, log)
	availabilityService := application.NewAvailabilityService(store, availabilityCache, log)

	// Start maintenance event consumer in a goroutine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.KafkaConfig.Brokers) > 0 {
		groupID := cfg.KafkaConfig.GroupPrefix + "booking-service"
		maintenanceConsumer := bookingEvents.NewMaintenanceEventConsumer(
			cfg.KafkaConfig.Brokers,
			groupID,
			intervalService,
			log,
		)
		defer func() { _ = maintenanceConsumer.Close() }()

		go func() {
			log.Info("starting maintenance event consumer")
			if err := maintenanceConsumer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("maintenance event consumer error", zap.Error(err))
			}
		}()
	}

	// Initialize HTTP handlers
	bookingHandler := handler.NewBookingHandler(bookingService)
	resourceHandler := handler.NewResourceHandler(directoryService, availabilityService)
	adminHandler := handler.NewAdminHandler(bookingService, directoryService, ledger, intervalService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins...))
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health and metrics routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)
	metrics.RegisterRoutes(router, registry)

	// Register routes
	bookingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	resourceHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	adminHandler.RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down " + serviceName + "...")

	// Cancel the consumer context
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info(serviceName + " stopped")
}

// openStore selects the transactional store. db is nil for the memory driver.
func openStore(cfg *config.ServiceConfig, log *zap.Logger) (unitofwork.Store, *gorm.DB) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is not persisted")
		return repository.NewMemoryStore(cfg.DBConfig.LockTimeout), nil
	case config.StoragePostgres:
	default:
		log.Fatal("unknown storage driver", zap.String("driver", cfg.StorageDriver))
	}

	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	return repository.NewGormStore(db, cfg.DBConfig.LockTimeout, log), db
}
