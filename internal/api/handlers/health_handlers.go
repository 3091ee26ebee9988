package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/database"
)

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	db     *sqlx.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(db *sqlx.DB, c cache.Cache, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: c, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	components := gin.H{"database": "up", "cache": "up"}

	if err := database.HealthCheck(h.db); err != nil {
		components["database"] = "down"
		status = http.StatusServiceUnavailable
		h.logger.Warn("database health check failed", zap.Error(err))
	}
	if err := h.cache.Ping(c.Request.Context()); err != nil {
		components["cache"] = "down"
		status = http.StatusServiceUnavailable
		h.logger.Warn("cache health check failed", zap.Error(err))
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"time":       time.Now().UTC(),
		"components": components,
	})
}
