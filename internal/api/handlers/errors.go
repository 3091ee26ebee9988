package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// Error codes as constants for consistent error responses across handlers
const (
	// Validation errors
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeInvalidUserID   = "INVALID_USER_ID"
	ErrCodeInvalidAmount   = "INVALID_AMOUNT"

	// Authentication & Authorization errors
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeInvalidPIN   = "AUTH_ERROR"

	// Resource errors
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeWalletNotFound      = "WALLET_NOT_FOUND"
	ErrCodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"

	// Withdrawal errors
	ErrCodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	ErrCodeGatewayRejected    = "GATEWAY_REJECTED"
	ErrCodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"

	// Webhook errors
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeAlreadySettled   = "ALREADY_SETTLED"
	ErrCodeWebhookFailed    = "WEBHOOK_PROCESSING_ERROR"

	// Operation errors
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Error messages as constants for consistency
const (
	MsgInvalidRequest     = "Invalid request payload"
	MsgUnauthorized       = "Authentication required"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
)

// respondDomainError translates a domain error into the matching HTTP
// response. Unknown errors collapse to a 500 without leaking internals.
func respondDomainError(c *gin.Context, err error) {
	code := domainerrors.GetErrorCode(err)
	details := domainerrors.GetErrorDetails(err)

	switch {
	case domainerrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, code, err.Error(), details)
	case domainerrors.IsUnauthorized(err):
		respondError(c, http.StatusUnauthorized, code, err.Error(), details)
	case domainerrors.IsInsufficientFunds(err):
		respondError(c, http.StatusUnprocessableEntity, code, err.Error(), details)
	case domainerrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, code, err.Error(), details)
	case domainerrors.IsGatewayRejected(err):
		respondError(c, http.StatusBadGateway, code, err.Error(), details)
	case errors.Is(err, domainerrors.ErrGatewayUnavailable):
		respondError(c, http.StatusServiceUnavailable, code, err.Error(), details)
	case domainerrors.IsSettlementConflict(err):
		respondError(c, http.StatusConflict, code, err.Error(), details)
	default:
		respondInternalError(c, MsgInternalError)
	}
}
