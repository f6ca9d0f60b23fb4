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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-engine/internal/cache"
	"github.com/SAP-F-2025/exam-engine/internal/clock"
	"github.com/SAP-F-2025/exam-engine/internal/config"
	"github.com/SAP-F-2025/exam-engine/internal/events"
	"github.com/SAP-F-2025/exam-engine/internal/handlers"
	"github.com/SAP-F-2025/exam-engine/internal/oracle"
	"github.com/SAP-F-2025/exam-engine/internal/questionpool"
	"github.com/SAP-F-2025/exam-engine/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-engine/internal/scheduler"
	"github.com/SAP-F-2025/exam-engine/internal/services"
	"github.com/SAP-F-2025/exam-engine/internal/utils"
	"github.com/SAP-F-2025/exam-engine/internal/validator"
	"github.com/SAP-F-2025/exam-engine/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)
	slogLogger := logger.Slog()

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Failed to initialize Redis, running without cache", "error", err)
		}
	}

	// Initialize repositories
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
	})
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	// Initialize event publisher
	var publisher events.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaEventPublisher(cfg.KafkaBrokers, slogLogger)
		if err != nil {
			log.Fatalf("Failed to initialize kafka publisher: %v", err)
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set, events will not leave the process")
		publisher = events.NewMockEventPublisher(slogLogger)
	}

	// Initialize question pool and oracle client
	cacheManager := cache.NewCacheManager(redisClient)
	pool := questionpool.NewResolver(db, cacheManager, slogLogger)
	oracleClient := oracle.NewResilientClient(
		oracle.NewHTTPClient(cfg.OracleBaseURL, cfg.OracleTimeout, slogLogger),
		pool,
		slogLogger,
	)

	// Initialize services
	serviceManager := services.NewServiceManager(services.ServiceManagerConfig{
		Repository: repo,
		Oracle:     oracleClient,
		Pool:       pool,
		Publisher:  publisher,
		Clock:      clock.System(),
		Logger:     slogLogger,
		Validator:  validator.New(clock.System()),
	})
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Start the scheduling daemon
	daemonCtx, stopDaemon := context.WithCancel(context.Background())
	daemon := scheduler.NewDaemon(
		serviceManager.Template(),
		serviceManager.Session(),
		clock.System(),
		cfg.SweepInterval,
		slogLogger,
	)
	go daemon.Start(daemonCtx)

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, logger, cfg.Casdoor, repo.User())

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopDaemon()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	if err := repoManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to close repositories: %v", err)
	}

	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}
