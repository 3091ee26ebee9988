package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/api/handlers"
	"github.com/vaultpay/wallet_service/internal/api/routes"
	"github.com/vaultpay/wallet_service/internal/domain/services/audit"
	"github.com/vaultpay/wallet_service/internal/domain/services/fees"
	"github.com/vaultpay/wallet_service/internal/domain/services/notification"
	"github.com/vaultpay/wallet_service/internal/domain/services/reconciliation"
	"github.com/vaultpay/wallet_service/internal/domain/services/wallet"
	"github.com/vaultpay/wallet_service/internal/domain/services/withdrawal"
	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
	"github.com/vaultpay/wallet_service/internal/infrastructure/database"
	"github.com/vaultpay/wallet_service/internal/infrastructure/repositories"
	"github.com/vaultpay/wallet_service/pkg/logger"
	"github.com/vaultpay/wallet_service/pkg/tracing"

	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisCache.Close()

	// Repositories
	walletRepo := repositories.NewWalletRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Adapters
	gatewayClient := gateway.NewClient(&cfg.Gateway, redisCache, log.Zap())

	// Services
	auditService := audit.NewService(auditRepo, log.Zap())
	notificationService, err := notification.NewService(notification.Config{
		Provider:  cfg.Notification.Provider,
		APIKey:    cfg.Notification.APIKey,
		FromEmail: cfg.Notification.FromEmail,
		FromName:  cfg.Notification.FromName,
	}, walletRepo, log.Zap())
	if err != nil {
		log.Fatal("Failed to create notification service", "error", err)
	}

	feeCalculator := fees.NewCalculator(fees.Config{
		PercentBps:     cfg.Fees.PercentBps,
		GatewayFeeMin:  mustDecimal(cfg.Fees.GatewayFeeMin),
		GatewayFeeMax:  mustDecimal(cfg.Fees.GatewayFeeMax),
		PlatformFeeMin: mustDecimal(cfg.Fees.PlatformFeeMin),
		PlatformFeeMax: mustDecimal(cfg.Fees.PlatformFeeMax),
		MinWithdrawal:  mustDecimal(cfg.Fees.MinWithdrawal),
	})

	withdrawalService := withdrawal.NewService(
		walletRepo, txRepo, gatewayClient, feeCalculator,
		auditService, notificationService, log.Zap(),
	)
	walletService := wallet.NewService(walletRepo, txRepo, log.Zap())

	reconciliationService := reconciliation.NewService(
		&cfg.Reconciliation, walletRepo, txRepo, gatewayClient,
		redisCache, auditService, log.Zap(),
	)
	sweeper := reconciliation.NewSweeper(
		txRepo, gatewayClient, withdrawalService,
		time.Duration(cfg.Reconciliation.StaleAfterHours)*time.Hour, log.Zap(),
	)
	scheduler := reconciliation.NewScheduler(
		&cfg.Reconciliation, reconciliationService, sweeper,
		time.Duration(cfg.Workers.JobTimeout)*time.Second, log.Zap(),
	)
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start reconciliation scheduler", "error", err)
	}

	// Router
	router := routes.Setup(cfg, log, routes.Dependencies{
		DB:             db,
		Cache:          redisCache,
		Withdrawal:     handlers.NewWithdrawalHandler(withdrawalService, walletService, log.Zap()),
		Wallet:         handlers.NewWalletHandler(walletService, log.Zap()),
		Webhook:        handlers.NewWebhookHandler(withdrawalService, cfg.Gateway.WebhookSecret, log.Zap()),
		Reconciliation: handlers.NewReconciliationHandler(reconciliationService, gatewayClient, log.Zap()),
	})

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal in config: %q", s))
	}
	return d
}
