package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

const testSecret = "whsec_test"

type fakeSettlement struct {
	calls int
	err   error
}

func (f *fakeSettlement) Settle(_ context.Context, notice *entities.SettlementNotice) (*entities.Transaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &entities.Transaction{
		ID:          uuid.New(),
		MerchantRef: notice.MerchantRef,
		Status:      notice.Status,
	}, nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(handler *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/gateway/transfer", handler.HandleTransferSettlement)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway/transfer", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Gateway-Signature", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidSignatureSettles(t *testing.T) {
	settler := &fakeSettlement{}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	body := []byte(`{"merchant_tx_ref":"VP-abc","status":"success"}`)
	rec := postWebhook(handler, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, settler.calls)
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	settler := &fakeSettlement{}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	body := []byte(`{"merchant_tx_ref":"VP-abc","status":"success"}`)
	rec := postWebhook(handler, body, "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, settler.calls, "unverified payloads never reach the settlement path")
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	settler := &fakeSettlement{}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	body := []byte(`{"merchant_tx_ref":"VP-abc","status":"success"}`)
	rec := postWebhook(handler, body, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, settler.calls)
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	settler := &fakeSettlement{}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	original := []byte(`{"merchant_tx_ref":"VP-abc","status":"failed"}`)
	tampered := []byte(`{"merchant_tx_ref":"VP-abc","status":"success"}`)
	rec := postWebhook(handler, tampered, sign(original))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, settler.calls)
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	// gateways retry on non-2xx, so a conflict must still acknowledge
	settler := &fakeSettlement{err: domainerrors.SettlementConflictError("VP-abc")}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	body := []byte(`{"merchant_tx_ref":"VP-abc","status":"success"}`)
	rec := postWebhook(handler, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_settled")
}

func TestWebhook_UnknownReference(t *testing.T) {
	settler := &fakeSettlement{err: domainerrors.NotFoundError("TRANSACTION")}
	handler := NewWebhookHandler(settler, testSecret, zap.NewNop())

	body := []byte(`{"merchant_tx_ref":"VP-nope","status":"success"}`)
	rec := postWebhook(handler, body, sign(body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
