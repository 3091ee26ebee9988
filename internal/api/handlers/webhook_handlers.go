package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// SettlementService finalizes processing transactions
type SettlementService interface {
	Settle(ctx context.Context, notice *entities.SettlementNotice) (*entities.Transaction, error)
}

// WebhookHandler handles inbound gateway webhooks
type WebhookHandler struct {
	withdrawals   SettlementService
	webhookSecret string
	logger        *zap.Logger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(withdrawals SettlementService, webhookSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		withdrawals:   withdrawals,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// HandleTransferSettlement handles POST /webhooks/gateway/transfer. The
// gateway retries deliveries until it sees a 2xx, so duplicates are
// acknowledged rather than errored: the settlement path already guarantees
// they mutate nothing.
func (h *WebhookHandler) HandleTransferSettlement(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondBadRequest(c, "failed to read webhook body")
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Gateway-Signature")) {
		h.logger.Warn("webhook rejected: invalid signature",
			zap.String("remote_addr", c.ClientIP()))
		respondError(c, http.StatusUnauthorized, ErrCodeInvalidSignature,
			"webhook signature verification failed", nil)
		return
	}

	var notice entities.SettlementNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		respondBadRequest(c, "invalid webhook payload")
		return
	}
	notice.Payload = body

	tx, err := h.withdrawals.Settle(c.Request.Context(), &notice)
	if err != nil {
		switch {
		case domainerrors.IsSettlementConflict(err):
			respondSuccess(c, gin.H{"status": "already_settled", "merchant_tx_ref": notice.MerchantRef})
		case domainerrors.IsNotFound(err):
			respondNotFound(c, "no transaction for merchant reference")
		case domainerrors.IsInvalidInput(err):
			respondDomainError(c, err)
		default:
			h.logger.Error("webhook settlement failed",
				zap.Error(err), zap.String("merchant_tx_ref", notice.MerchantRef))
			respondError(c, http.StatusInternalServerError, ErrCodeWebhookFailed,
				"settlement processing failed", nil)
		}
		return
	}

	respondSuccess(c, gin.H{"status": "settled", "transaction_id": tx.ID, "final_status": tx.Status})
}

// verifySignature checks the HMAC-SHA256 signature over the raw body
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
