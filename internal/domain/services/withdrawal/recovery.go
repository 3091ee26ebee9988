package withdrawal

import (
	"context"

	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// ResolveAbandoned finalizes a pending transaction that a crash left debited
// but unacknowledged, so the debit always regains a path to success or
// refund. A nil status means the gateway never saw the merchant reference:
// the transfer never dispatched and the debit is refunded. Otherwise the row
// is promoted to processing and, when the gateway already knows the outcome,
// settled through the usual idempotent path.
func (s *Service) ResolveAbandoned(ctx context.Context, tx *entities.Transaction, status *gateway.TransferStatus) (bool, error) {
	if tx.Status != entities.TransactionStatusPending {
		return false, domainerrors.ValidationError("status", "only pending transactions can be resolved")
	}

	if status == nil {
		s.compensate(ctx, tx, "transfer never reached the gateway", nil)
		return true, nil
	}

	var final entities.TransactionStatus
	switch status.Status {
	case "success":
		final = entities.TransactionStatusSuccess
	case "failed":
		final = entities.TransactionStatusFailed
	default:
		// accepted before the crash and still in flight; restore the
		// processing state so the webhook or the next sweep can finish
		if err := s.transactions.MarkProcessing(ctx, tx.ID, "", status.Raw); err != nil {
			return false, err
		}
		s.logger.Info("abandoned pending transaction promoted to processing",
			zap.String("merchant_ref", tx.MerchantRef),
			zap.String("gateway_status", status.Status))
		return true, nil
	}

	if err := s.transactions.MarkProcessing(ctx, tx.ID, "", status.Raw); err != nil {
		return false, err
	}

	reason := status.Reason
	if final == entities.TransactionStatusFailed && reason == "" {
		reason = "resolved as failed after gateway inquiry"
	}
	if _, err := s.Settle(ctx, &entities.SettlementNotice{
		MerchantRef: tx.MerchantRef,
		Status:      final,
		Reason:      reason,
		Payload:     status.Raw,
	}); err != nil {
		if domainerrors.IsSettlementConflict(err) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}
