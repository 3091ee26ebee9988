package withdrawal

import (
	"context"

	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
	"github.com/vaultpay/wallet_service/pkg/metrics"
)

// Settle finalizes a processing transaction from a gateway webhook. The
// conditional processing-to-terminal transition in the repository is what
// makes redelivery safe: only the first delivery for a merchant reference
// mutates anything, every later one gets a SettlementConflict no-op.
func (s *Service) Settle(ctx context.Context, notice *entities.SettlementNotice) (*entities.Transaction, error) {
	final := notice.Status
	if !final.IsTerminal() {
		return nil, domainerrors.ValidationError("status", "settlement status must be success or failed")
	}

	var failureReason *string
	if final == entities.TransactionStatusFailed {
		reason := notice.Reason
		if reason == "" {
			reason = "transfer failed at gateway"
		}
		failureReason = &reason
	}

	tx, err := s.transactions.Settle(ctx, notice.MerchantRef, final, failureReason, notice.Payload)
	if err != nil {
		if domainerrors.IsSettlementConflict(err) {
			metrics.SettlementConflicts.Inc()
			s.logger.Info("duplicate settlement ignored",
				zap.String("merchant_ref", notice.MerchantRef),
				zap.String("status", string(final)))
		}
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(final)).Inc()

	if final == entities.TransactionStatusFailed {
		// Exactly one refund per settlement: the conditional transition
		// above already collapsed redeliveries, so this runs at most once
		// per merchant reference.
		if err := s.wallets.Increment(ctx, tx.UserID, tx.TotalDeduction); err != nil {
			s.flagRefundPending(ctx, tx, err)
		} else {
			metrics.RefundsTotal.Inc()
			s.auditor.RecordTransaction(ctx, tx.UserID, entities.AuditActionRefundApplied, tx.ID,
				"debit refunded after failed settlement", map[string]interface{}{
					"merchant_ref": tx.MerchantRef,
					"amount":       tx.TotalDeduction.String(),
				})
		}
	}

	s.auditor.RecordTransaction(ctx, tx.UserID, entities.AuditActionWithdrawalSettled, tx.ID,
		"withdrawal settled", map[string]interface{}{
			"merchant_ref": tx.MerchantRef,
			"status":       string(final),
		})
	s.notifier.NotifyWithdrawal(ctx, tx.UserID, tx)

	s.logger.Info("withdrawal settled",
		zap.String("merchant_ref", tx.MerchantRef),
		zap.String("status", string(final)))

	return tx, nil
}
