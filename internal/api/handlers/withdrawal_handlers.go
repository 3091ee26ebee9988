package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	"github.com/vaultpay/wallet_service/internal/domain/services/wallet"
	"github.com/vaultpay/wallet_service/internal/domain/services/withdrawal"
)

// WithdrawalHandler handles withdrawal endpoints
type WithdrawalHandler struct {
	withdrawals *withdrawal.Service
	wallets     *wallet.Service
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewWithdrawalHandler creates a withdrawal handler
func NewWithdrawalHandler(withdrawals *withdrawal.Service, wallets *wallet.Service, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		wallets:     wallets,
		validator:   validator.New(),
		logger:      logger,
	}
}

// InitiateWithdrawal handles POST /api/v1/withdrawals
func (h *WithdrawalHandler) InitiateWithdrawal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}

	var req entities.InitiateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	req.UserID = userID

	if err := h.validator.Struct(&req); err != nil {
		respondBadRequest(c, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	resp, err := h.withdrawals.Initiate(c.Request.Context(), &req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	// settlement arrives later via webhook, so acceptance is 202
	c.JSON(http.StatusAccepted, resp)
}

// GetWithdrawal handles GET /api/v1/withdrawals/:id
func (h *WithdrawalHandler) GetWithdrawal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, MsgUnauthorized)
		return
	}

	txID, err := parseUUID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid withdrawal id")
		return
	}

	tx, err := h.wallets.GetTransaction(c.Request.Context(), userID, txID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, tx)
}

// ListWithdrawals handles GET /api/v1/withdrawals
func (h *WithdrawalHandler) ListWithdrawals(c *gin.Context) {
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

	withdrawals := make([]*entities.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Kind == entities.TransactionKindDebit {
			withdrawals = append(withdrawals, tx)
		}
	}
	respondSuccess(c, gin.H{"withdrawals": withdrawals, "limit": limit, "offset": offset})
}
