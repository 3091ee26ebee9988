package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/services/wallet"
)

// WalletHandler handles wallet read endpoints
type WalletHandler struct {
	wallets *wallet.Service
	logger  *zap.Logger
}

// NewWalletHandler creates a wallet handler
func NewWalletHandler(wallets *wallet.Service, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger}
}

// GetWallet handles GET /api/v1/wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}

	w, err := h.wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, w)
}

// ListTransactions handles GET /api/v1/transactions
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}

	limit := parseIntParam(c, "limit", 20)
	offset := parseIntParam(c, "offset", 0)

	txs, err := h.wallets.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, gin.H{"transactions": txs, "limit": limit, "offset": offset})
}
