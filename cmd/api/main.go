package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vinreports-api/internal/cache"
	"vinreports-api/internal/config"
	"vinreports-api/internal/handler"
	"vinreports-api/internal/middleware"
	"vinreports-api/internal/repository"
	"vinreports-api/internal/router"
	"vinreports-api/internal/service"
	"vinreports-api/internal/store"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting VIN Reports API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize report cache repository based on config
	var reportRepo repository.ReportCacheRepository
	switch cfg.ReportDB.Type {
	case "mongodb", "mongo":
		mongoRepo, err := repository.NewMongoDBReportCacheRepository(
			cfg.ReportDB.MongoURI,
			cfg.ReportDB.MongoDatabase,
			cfg.ReportDB.MongoCollection,
		)
		if err != nil {
			log.Fatalf("Failed to initialize MongoDB: %v", err)
		}
		defer mongoRepo.Close()
		reportRepo = mongoRepo
		log.Println("MongoDB report cache initialized")
	case "postgres", "postgresql":
		pgRepo, err := repository.NewPostgresReportCacheRepository(cfg.ReportDB.PostgresDSN())
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL: %v", err)
		}
		defer pgRepo.Close()
		reportRepo = pgRepo
		log.Println("PostgreSQL report cache initialized")
	default: // sqlite
		sqliteRepo, err := repository.NewSQLiteReportCacheRepository(cfg.ReportDB.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite: %v", err)
		}
		defer sqliteRepo.Close()
		reportRepo = sqliteRepo
		log.Println("SQLite report cache initialized")
	}

	// Billing store: balances, ledger, intents, processed sessions
	billingRepo, err := repository.NewSQLiteBillingRepository(cfg.Billing.Path)
	if err != nil {
		log.Fatalf("Failed to initialize billing store: %v", err)
	}
	defer billingRepo.Close()
	log.Println("Billing store initialized")

	// Key/value store: consumed receipts and share tokens
	kvStore, err := store.NewBoltStore(cfg.KV.Path, service.ReceiptBucket, service.ShareBucket)
	if err != nil {
		log.Fatalf("Failed to initialize key/value store: %v", err)
	}
	defer kvStore.Close()
	log.Println("Key/value store initialized")

	// Initialize MySQL connection for user accounts (optional)
	var mysqlDB *sql.DB
	var accountRepo *repository.MySQLUserAccountRepository

	mysqlDB, err = sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		log.Printf("Warning: MySQL connection failed: %v", err)
	} else {
		mysqlDB.SetMaxOpenConns(10)
		mysqlDB.SetMaxIdleConns(5)
		mysqlDB.SetConnMaxLifetime(5 * time.Minute)

		if err := mysqlDB.Ping(); err != nil {
			log.Printf("Warning: MySQL ping failed: %v", err)
			mysqlDB.Close()
			mysqlDB = nil
		} else {
			accountRepo = repository.NewMySQLUserAccountRepository(mysqlDB)
			log.Println("MySQL account repository initialized")
		}
	}
	if mysqlDB != nil {
		defer mysqlDB.Close()
	}

	// Initialize Redis client (optional; without it the API serves
	// guests and receipt buyers only)
	redisAddr := cfg.Cache.RedisAddress()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		redisClient = nil
	} else {
		log.Println("Redis client initialized")
	}
	cancel()

	// Plate-lookup cache: redis when configured and reachable, memory otherwise
	var plateCache cache.Cache
	if cfg.Cache.Type == "redis" && redisClient != nil {
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     redisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis cache initialization failed, using memory: %v", err)
			plateCache = cache.NewMemoryCache()
		} else {
			plateCache = redisCache
		}
	} else {
		plateCache = cache.NewMemoryCache()
	}

	// Payment processors
	sessionProcessor := service.NewSessionProcessor(
		cfg.Payment.SessionBaseURL,
		cfg.Payment.SessionSecret,
		cfg.Payment.SuccessURL,
		cfg.Payment.CancelURL,
		cfg.Payment.Timeout,
	)
	captureProcessor := service.NewCaptureProcessor(
		cfg.Payment.CaptureBaseURL,
		cfg.Payment.CaptureSecret,
		cfg.Payment.Timeout,
	)
	verifier := service.NewProcessorRouter(sessionProcessor, captureProcessor)

	// Report provider
	provider := service.NewHTTPReportProvider(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.FetchTimeout,
		plateCache,
		cfg.Cache.TTL,
	)

	// Initialize services
	receipts := service.NewReceiptLedger(kvStore)
	fulfillment := service.NewFulfillmentService(
		reportRepo, billingRepo, receipts, verifier, provider,
		cfg.Provider.FetchTimeout,
	)
	checkout := service.NewCheckoutService(
		billingRepo, reportRepo, sessionProcessor, fulfillment,
		cfg.Payment.PriceCredits(), cfg.Provider.FetchTimeout,
	)
	share := service.NewShareService(kvStore, reportRepo, cfg.Share.TTL)

	var tokenService *service.TokenService
	if redisClient != nil {
		tokenService = service.NewTokenService(redisClient)
	}

	// Periodic purge of expired share tokens
	cleanup := service.NewCleanupScheduler(share, service.CleanupConfig{
		CleanupInterval: cfg.Share.CleanupInterval,
	})
	cleanup.Start()
	defer cleanup.Stop()

	// Initialize handlers
	healthHandler := handler.New()
	reportHandler := handler.NewReportHandler(fulfillment, share)
	checkoutHandler := handler.NewCheckoutHandler(checkout)
	webhookHandler := handler.NewWebhookHandler(checkout, cfg.Payment.WebhookSecret)
	shareHandler := handler.NewShareHandler(share)
	creditsHandler := handler.NewCreditsHandler(billingRepo)
	adminHandler := handler.NewAdminHandler(reportRepo, billingRepo, share, cfg.ReportDB.Type, cfg.App.LoginKey)

	var authHandler *handler.AuthHandler
	if tokenService != nil && accountRepo != nil {
		authHandler = handler.NewAuthHandler(tokenService, accountRepo)
	}

	// Create identity middleware with injected dependencies (NO GLOBALS!)
	identity := middleware.Identity(tokenService)

	// Create router
	r := router.New(router.Config{
		Handler:            healthHandler,
		ReportHandler:      reportHandler,
		CheckoutHandler:    checkoutHandler,
		WebhookHandler:     webhookHandler,
		ShareHandler:       shareHandler,
		CreditsHandler:     creditsHandler,
		AdminHandler:       adminHandler,
		AuthHandler:        authHandler,
		IdentityMiddleware: identity,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}
