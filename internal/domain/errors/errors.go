// Package errors provides standardized error types for the domain layer.
// These errors provide consistent error handling across all services
// and enable proper error categorization for HTTP responses.
package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientFunds indicates the wallet balance cannot cover the
	// requested deduction
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrGatewayRejected indicates the payment rail rejected the transfer
	// synchronously
	ErrGatewayRejected = errors.New("gateway rejected transfer")

	// ErrGatewayUnavailable indicates the payment rail timed out or the
	// outcome is otherwise unknown
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrSettlementConflict indicates a duplicate or out-of-order webhook
	// delivery against an already settled transaction
	ErrSettlementConflict = errors.New("transaction already settled")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// ValidationError creates a validation error for a specific field
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// AuthError creates a PIN-mismatch error. No funds are touched when this
// is returned.
func AuthError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Code:    "AUTH_ERROR",
		Message: message,
	}
}

// InsufficientFundsError carries the shortfall so callers can show how much
// the wallet is missing
func InsufficientFundsError(balance, required decimal.Decimal) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFunds,
		Code:    "INSUFFICIENT_FUNDS",
		Message: "wallet balance cannot cover the total deduction",
		Details: map[string]interface{}{
			"balance":   balance.String(),
			"required":  required.String(),
			"shortfall": required.Sub(balance).String(),
		},
	}
}

// GatewayRejectedError wraps a synchronous gateway failure code
func GatewayRejectedError(code, description string) *DomainError {
	return &DomainError{
		Err:     ErrGatewayRejected,
		Code:    "GATEWAY_REJECTED",
		Message: description,
		Details: map[string]interface{}{
			"gateway_code": code,
		},
	}
}

// GatewayUnavailableError marks an unknown transfer outcome (timeout,
// transport failure). Treated conservatively by the orchestrator.
func GatewayUnavailableError(err error) *DomainError {
	return &DomainError{
		Err:       ErrGatewayUnavailable,
		Code:      "GATEWAY_UNAVAILABLE",
		Message:   "payment gateway did not return a definitive result",
		Retryable: true,
		Details: map[string]interface{}{
			"cause": err.Error(),
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// SettlementConflictError marks an idempotent no-op settlement
func SettlementConflictError(merchantRef string) *DomainError {
	return &DomainError{
		Err:     ErrSettlementConflict,
		Code:    "ALREADY_SETTLED",
		Message: "transaction is not awaiting settlement",
		Details: map[string]interface{}{
			"merchant_ref": merchantRef,
		},
	}
}

// InternalError creates an internal error
func InternalError(message string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrInternal,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// Error helpers for common patterns

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if an error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized checks if an error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInsufficientFunds checks if an error is an insufficient funds error
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsGatewayRejected checks if an error is a synchronous gateway rejection
func IsGatewayRejected(err error) bool {
	return errors.Is(err, ErrGatewayRejected)
}

// IsSettlementConflict checks if an error is an idempotent settlement no-op
func IsSettlementConflict(err error) bool {
	return errors.Is(err, ErrSettlementConflict)
}

// GetErrorCode extracts the error code from a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts details from a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
