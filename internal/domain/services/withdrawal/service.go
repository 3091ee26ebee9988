// Package withdrawal orchestrates the withdrawal state machine: debit,
// gateway dispatch, compensating refunds and webhook settlement.
package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
	"github.com/vaultpay/wallet_service/pkg/metrics"
	"github.com/vaultpay/wallet_service/pkg/tracing"
)

// WalletRepository is the balance store contract. Decrement and Increment
// must be atomic conditional updates at the data-store layer.
type WalletRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error)
	Decrement(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
	Increment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error
}

// TransactionRepository is the ledger contract
type TransactionRepository interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	GetByMerchantRef(ctx context.Context, merchantRef string) (*entities.Transaction, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, gatewayRef string, gatewayResponse []byte) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, gatewayResponse []byte) error
	FlagRefundPending(ctx context.Context, id uuid.UUID, reason string) error
	Settle(ctx context.Context, merchantRef string, finalStatus entities.TransactionStatus, failureReason *string, gatewayPayload []byte) (*entities.Transaction, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// GatewayClient dispatches transfers to the payment rail
type GatewayClient interface {
	Transfer(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResult, error)
}

// FeeCalculator prices a withdrawal
type FeeCalculator interface {
	MinWithdrawal() decimal.Decimal
	Breakdown(amount decimal.Decimal) (entities.FeeBreakdown, error)
}

// Auditor records state transitions, best-effort
type Auditor interface {
	RecordTransaction(ctx context.Context, userID uuid.UUID, action entities.AuditAction, txID uuid.UUID, description string, metadata map[string]interface{})
}

// Notifier delivers withdrawal status emails, best-effort
type Notifier interface {
	NotifyWithdrawal(ctx context.Context, userID uuid.UUID, tx *entities.Transaction)
}

// Service orchestrates withdrawals end to end
type Service struct {
	wallets      WalletRepository
	transactions TransactionRepository
	gateway      GatewayClient
	fees         FeeCalculator
	auditor      Auditor
	notifier     Notifier
	logger       *zap.Logger
}

// NewService creates a withdrawal orchestrator
func NewService(
	wallets WalletRepository,
	transactions TransactionRepository,
	gatewayClient GatewayClient,
	feeCalculator FeeCalculator,
	auditor Auditor,
	notifier Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		wallets:      wallets,
		transactions: transactions,
		gateway:      gatewayClient,
		fees:         feeCalculator,
		auditor:      auditor,
		notifier:     notifier,
		logger:       logger,
	}
}

// Initiate runs the withdrawal state machine up to gateway dispatch. It
// returns a processing transaction on acceptance; synchronous rejections
// refund the wallet before the error is returned. Validation, PIN and
// pre-flight balance failures never create a ledger row.
func (s *Service) Initiate(ctx context.Context, req *entities.InitiateWithdrawalRequest) (*entities.InitiateWithdrawalResponse, error) {
	ctx, span := tracing.GetTracer("withdrawal").Start(ctx, "withdrawal.Initiate",
		trace.WithAttributes(attribute.String("user_id", req.UserID.String())))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.WithdrawalDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.validateRequest(req); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("validation_error").Inc()
		return nil, err
	}

	wallet, err := s.wallets.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(wallet.PinHash), []byte(req.PIN)); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("auth_error").Inc()
		return nil, domainerrors.AuthError("incorrect transaction PIN")
	}

	breakdown, err := s.fees.Breakdown(req.Amount)
	if err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("validation_error").Inc()
		return nil, err
	}

	// Pre-flight check. The authoritative check is the conditional decrement
	// below; this one just avoids creating a ledger row that is certain to
	// be rolled back.
	if wallet.Balance.LessThan(breakdown.TotalDeduction) {
		metrics.WithdrawalsTotal.WithLabelValues("insufficient_funds").Inc()
		return nil, domainerrors.InsufficientFundsError(wallet.Balance, breakdown.TotalDeduction)
	}

	tx := &entities.Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Kind:           entities.TransactionKindDebit,
		Amount:         req.Amount,
		Fee:            breakdown.TotalFee,
		TotalDeduction: breakdown.TotalDeduction,
		Status:         entities.TransactionStatusPending,
		MerchantRef:    newMerchantRef(),
		Counterparty:   req.Counterparty,
		Narration:      req.Narration,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.auditor.RecordTransaction(ctx, req.UserID, entities.AuditActionWithdrawalInitiated, tx.ID,
		"withdrawal initiated", map[string]interface{}{
			"merchant_ref":    tx.MerchantRef,
			"amount":          req.Amount.String(),
			"total_deduction": breakdown.TotalDeduction.String(),
		})

	// Atomic debit. Losing the race to a concurrent withdrawal deletes the
	// pending row so no orphan ledger entry survives a rejected request.
	if err := s.wallets.Decrement(ctx, req.UserID, breakdown.TotalDeduction); err != nil {
		if delErr := s.transactions.Delete(ctx, tx.ID); delErr != nil {
			s.logger.Error("failed to delete pending transaction after debit failure",
				zap.Error(delErr), zap.String("transaction_id", tx.ID.String()))
		}
		metrics.WithdrawalsTotal.WithLabelValues("insufficient_funds").Inc()
		return nil, err
	}

	result, err := s.gateway.Transfer(ctx, &gateway.TransferRequest{
		Amount:        breakdown.AmountToRecipient,
		AccountNumber: req.Counterparty.AccountNumber,
		AccountName:   req.Counterparty.AccountName,
		BankCode:      req.Counterparty.BankCode,
		MerchantTxRef: tx.MerchantRef,
		Narration:     req.Narration,
	})
	if err != nil {
		// Covers explicit rejections and unknown outcomes alike: the funds
		// come back now rather than sitting in limbo. If the gateway did
		// move money despite the timeout, reconciliation surfaces the drift.
		var raw []byte
		if result != nil {
			raw = result.Raw
		}
		s.compensate(ctx, tx, err.Error(), raw)
		metrics.WithdrawalsTotal.WithLabelValues("gateway_rejected").Inc()
		return nil, err
	}

	if err := s.transactions.MarkProcessing(ctx, tx.ID, result.GatewayRef, result.Raw); err != nil {
		s.logger.Error("failed to mark transaction processing",
			zap.Error(err), zap.String("merchant_ref", tx.MerchantRef))
		return nil, fmt.Errorf("failed to record gateway acceptance: %w", err)
	}
	tx.Status = entities.TransactionStatusProcessing
	tx.GatewayRef = &result.GatewayRef

	s.auditor.RecordTransaction(ctx, req.UserID, entities.AuditActionWithdrawalDispatch, tx.ID,
		"transfer accepted by gateway", map[string]interface{}{
			"merchant_ref": tx.MerchantRef,
			"gateway_ref":  result.GatewayRef,
		})
	s.notifier.NotifyWithdrawal(ctx, req.UserID, tx)
	metrics.WithdrawalsTotal.WithLabelValues("dispatched").Inc()

	s.logger.Info("withdrawal dispatched",
		zap.String("user_id", req.UserID.String()),
		zap.String("merchant_ref", tx.MerchantRef),
		zap.String("amount", req.Amount.String()))

	return &entities.InitiateWithdrawalResponse{
		TransactionID: tx.ID,
		MerchantRef:   tx.MerchantRef,
		Status:        entities.TransactionStatusProcessing,
		Fees:          breakdown,
	}, nil
}

// compensate marks the transaction failed and refunds the debit. A refund
// that cannot be applied is flagged for manual recovery and never silently
// dropped.
func (s *Service) compensate(ctx context.Context, tx *entities.Transaction, reason string, gatewayResponse []byte) {
	if err := s.transactions.MarkFailed(ctx, tx.ID, reason, gatewayResponse); err != nil {
		s.logger.Error("failed to mark transaction failed",
			zap.Error(err), zap.String("merchant_ref", tx.MerchantRef))
	}
	tx.Status = entities.TransactionStatusFailed
	tx.FailureReason = &reason

	s.auditor.RecordTransaction(ctx, tx.UserID, entities.AuditActionWithdrawalRejected, tx.ID,
		"transfer rejected", map[string]interface{}{
			"merchant_ref": tx.MerchantRef,
			"reason":       reason,
		})

	if err := s.wallets.Increment(ctx, tx.UserID, tx.TotalDeduction); err != nil {
		s.flagRefundPending(ctx, tx, err)
	} else {
		metrics.RefundsTotal.Inc()
		s.auditor.RecordTransaction(ctx, tx.UserID, entities.AuditActionRefundApplied, tx.ID,
			"debit refunded", map[string]interface{}{
				"merchant_ref": tx.MerchantRef,
				"amount":       tx.TotalDeduction.String(),
			})
	}

	s.notifier.NotifyWithdrawal(ctx, tx.UserID, tx)
}

// flagRefundPending records a refund that could not be applied. The ledger
// row and the in-memory transaction both gain an explicit marker, so no
// surface downstream can report the funds as returned.
func (s *Service) flagRefundPending(ctx context.Context, tx *entities.Transaction, refundErr error) {
	metrics.RefundFailures.Inc()

	reason := "transfer failed"
	if tx.FailureReason != nil {
		reason = *tx.FailureReason
	}
	flagged := reason + "; refund pending manual recovery"

	if err := s.transactions.FlagRefundPending(ctx, tx.ID, flagged); err != nil {
		s.logger.Error("failed to persist refund-pending flag",
			zap.Error(err), zap.String("merchant_ref", tx.MerchantRef))
	}
	tx.RefundPending = true
	tx.FailureReason = &flagged

	s.logger.Error("refund failed, manual recovery required",
		zap.Error(refundErr),
		zap.String("user_id", tx.UserID.String()),
		zap.String("merchant_ref", tx.MerchantRef),
		zap.String("amount", tx.TotalDeduction.String()))
	s.auditor.RecordTransaction(ctx, tx.UserID, entities.AuditActionRefundFlagged, tx.ID,
		"refund could not be applied", map[string]interface{}{
			"merchant_ref": tx.MerchantRef,
			"amount":       tx.TotalDeduction.String(),
			"error":        refundErr.Error(),
		})
}

// validateRequest rejects malformed requests before any wallet read or PIN
// comparison happens, the amount minimum included.
func (s *Service) validateRequest(req *entities.InitiateWithdrawalRequest) error {
	if req.UserID == uuid.Nil {
		return domainerrors.ValidationError("user_id", "user id is required")
	}
	if !req.Amount.IsPositive() {
		return domainerrors.ValidationError("amount", "amount must be positive")
	}
	if min := s.fees.MinWithdrawal(); req.Amount.LessThan(min) {
		return domainerrors.ValidationError("amount",
			"amount is below the minimum withdrawal of "+min.String())
	}
	if req.Counterparty.AccountNumber == "" {
		return domainerrors.ValidationError("counterparty.account_number", "account number is required")
	}
	if req.Counterparty.AccountName == "" {
		return domainerrors.ValidationError("counterparty.account_name", "account name is required")
	}
	if req.Counterparty.BankCode == "" {
		return domainerrors.ValidationError("counterparty.bank_code", "bank code is required")
	}
	if req.PIN == "" {
		return domainerrors.ValidationError("pin", "transaction pin is required")
	}
	return nil
}

func newMerchantRef() string {
	return "VP-" + uuid.NewString()
}
