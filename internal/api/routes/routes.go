// Package routes wires handlers, middleware and the gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultpay/wallet_service/internal/api/handlers"
	"github.com/vaultpay/wallet_service/internal/api/middleware"
	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
	"github.com/vaultpay/wallet_service/pkg/logger"
)

// Dependencies carries the constructed handlers into route setup
type Dependencies struct {
	DB             *sqlx.DB
	Cache          cache.Cache
	Withdrawal     *handlers.WithdrawalHandler
	Wallet         *handlers.WalletHandler
	Webhook        *handlers.WebhookHandler
	Reconciliation *handlers.ReconciliationHandler
}

// Setup configures the router with all service routes
func Setup(cfg *config.Config, log *logger.Logger, deps Dependencies) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit())

	// Operational endpoints, no identity required
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache, log.Zap())
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway webhooks authenticate by signature, not by user identity
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/gateway/transfer", deps.Webhook.HandleTransferSettlement)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		v1.GET("/wallet", deps.Wallet.GetWallet)
		v1.GET("/transactions", deps.Wallet.ListTransactions)

		withdrawals := v1.Group("/withdrawals")
		{
			withdrawals.POST("", deps.Withdrawal.InitiateWithdrawal)
			withdrawals.GET("", deps.Withdrawal.ListWithdrawals)
			withdrawals.GET("/:id", deps.Withdrawal.GetWithdrawal)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminOnly())
		{
			admin.POST("/reconciliation/run", deps.Reconciliation.RunReconciliation)
			admin.GET("/reconciliation/latest", deps.Reconciliation.LatestReconciliation)
			admin.POST("/reconciliation/cache/clear", deps.Reconciliation.ClearReconciliationCache)
			admin.POST("/gateway/token/clear", deps.Reconciliation.ClearGatewayTokenCache)
		}
	}

	return router
}
