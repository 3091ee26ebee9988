package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/services/reconciliation"
)

// TokenCacheClearer drops the cached gateway auth token
type TokenCacheClearer interface {
	ClearTokenCache(ctx context.Context) error
}

// ReconciliationHandler handles the administrative reconciliation endpoints
type ReconciliationHandler struct {
	reconciliation *reconciliation.Service
	gateway        TokenCacheClearer
	logger         *zap.Logger
}

// NewReconciliationHandler creates a reconciliation admin handler
func NewReconciliationHandler(svc *reconciliation.Service, gateway TokenCacheClearer, logger *zap.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{reconciliation: svc, gateway: gateway, logger: logger}
}

// RunReconciliation handles POST /api/v1/admin/reconciliation/run
func (h *ReconciliationHandler) RunReconciliation(c *gin.Context) {
	result, err := h.reconciliation.Run(c.Request.Context(), "manual")
	if err != nil {
		h.logger.Error("manual reconciliation run failed", zap.Error(err))
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, result)
}

// LatestReconciliation handles GET /api/v1/admin/reconciliation/latest
func (h *ReconciliationHandler) LatestReconciliation(c *gin.Context) {
	result, err := h.reconciliation.Latest(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, result)
}

// ClearReconciliationCache handles POST /api/v1/admin/reconciliation/cache/clear
func (h *ReconciliationHandler) ClearReconciliationCache(c *gin.Context) {
	actorID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}
	if err := h.reconciliation.ClearCache(c.Request.Context(), actorID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, gin.H{"status": "cleared"})
}

// ClearGatewayTokenCache handles POST /api/v1/admin/gateway/token/clear
func (h *ReconciliationHandler) ClearGatewayTokenCache(c *gin.Context) {
	if _, err := getUserID(c); err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}
	if err := h.gateway.ClearTokenCache(c.Request.Context()); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, gin.H{"status": "cleared"})
}
