package reconciliation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

const sweepBatchSize = 100

// StaleLedger lists transactions stuck in a non-terminal state
type StaleLedger interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error)
}

// StatusInquirer asks the gateway for the current state of a transfer
type StatusInquirer interface {
	GetTransferStatus(ctx context.Context, merchantRef string) (*gateway.TransferStatus, error)
}

// Settler finalizes a processing transaction and recovers pending ones a
// crash left behind
type Settler interface {
	Settle(ctx context.Context, notice *entities.SettlementNotice) (*entities.Transaction, error)
	ResolveAbandoned(ctx context.Context, tx *entities.Transaction, status *gateway.TransferStatus) (bool, error)
}

// Sweeper resolves transactions left in a non-terminal state past a bound:
// processing rows whose settlement webhook never arrived and pending rows a
// crash abandoned mid-dispatch. Resolution goes through the same idempotent
// settlement path as the webhook, so a late webhook racing the sweep is
// harmless.
type Sweeper struct {
	ledger     StaleLedger
	gateway    StatusInquirer
	settler    Settler
	staleAfter time.Duration
	logger     *zap.Logger
}

// NewSweeper creates a stale-processing sweeper
func NewSweeper(ledger StaleLedger, statusInquirer StatusInquirer, settler Settler, staleAfter time.Duration, logger *zap.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &Sweeper{
		ledger:     ledger,
		gateway:    statusInquirer,
		settler:    settler,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Sweep resolves every transaction stuck in a non-terminal state past the
// bound: processing rows whose settlement webhook never arrived, then
// pending rows a crash left debited before the gateway acknowledged.
func (s *Sweeper) Sweep(ctx context.Context) (resolved int, err error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	fromProcessing, err := s.sweepProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	fromPending, err := s.sweepPending(ctx, cutoff)
	if err != nil {
		return fromProcessing, err
	}
	return fromProcessing + fromPending, nil
}

// sweepProcessing inquires the gateway about every stale processing
// transaction and settles the ones with a terminal answer. Transfers the
// gateway still reports as in flight are left for the next sweep.
func (s *Sweeper) sweepProcessing(ctx context.Context, cutoff time.Time) (resolved int, err error) {
	stale, err := s.ledger.ListStaleProcessing(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Info("sweeping stale processing transactions",
		zap.Int("count", len(stale)),
		zap.Time("cutoff", cutoff))

	for _, tx := range stale {
		status, err := s.gateway.GetTransferStatus(ctx, tx.MerchantRef)
		if err != nil {
			s.logger.Warn("status inquiry failed, leaving transaction for next sweep",
				zap.Error(err),
				zap.String("merchant_ref", tx.MerchantRef))
			continue
		}

		var final entities.TransactionStatus
		switch status.Status {
		case "success":
			final = entities.TransactionStatusSuccess
		case "failed":
			final = entities.TransactionStatusFailed
		default:
			s.logger.Info("gateway still reports transfer as in flight",
				zap.String("merchant_ref", tx.MerchantRef),
				zap.String("gateway_status", status.Status))
			continue
		}

		reason := status.Reason
		if final == entities.TransactionStatusFailed && reason == "" {
			reason = "resolved as failed by stale-processing sweep"
		}

		if _, err := s.settler.Settle(ctx, &entities.SettlementNotice{
			MerchantRef: tx.MerchantRef,
			Status:      final,
			Reason:      reason,
			Payload:     status.Raw,
		}); err != nil {
			if domainerrors.IsSettlementConflict(err) {
				// the webhook beat us to it
				continue
			}
			s.logger.Error("failed to settle stale transaction",
				zap.Error(err),
				zap.String("merchant_ref", tx.MerchantRef))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		s.logger.Info("stale sweep resolved transactions", zap.Int("resolved", resolved))
	}
	return resolved, nil
}

// sweepPending resolves pending rows that a crash left debited before the
// gateway acknowledged the transfer. A merchant reference the gateway has
// never seen means the transfer never dispatched; the debit comes back.
func (s *Sweeper) sweepPending(ctx context.Context, cutoff time.Time) (resolved int, err error) {
	stale, err := s.ledger.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.Info("sweeping abandoned pending transactions",
		zap.Int("count", len(stale)),
		zap.Time("cutoff", cutoff))

	for _, tx := range stale {
		status, err := s.gateway.GetTransferStatus(ctx, tx.MerchantRef)
		if err != nil {
			if !domainerrors.IsNotFound(err) {
				s.logger.Warn("status inquiry failed, leaving pending transaction for next sweep",
					zap.Error(err),
					zap.String("merchant_ref", tx.MerchantRef))
				continue
			}
			status = nil
		}

		ok, err := s.settler.ResolveAbandoned(ctx, tx, status)
		if err != nil {
			s.logger.Error("failed to resolve abandoned pending transaction",
				zap.Error(err),
				zap.String("merchant_ref", tx.MerchantRef))
			continue
		}
		if ok {
			resolved++
		}
	}

	if resolved > 0 {
		s.logger.Info("pending sweep resolved transactions", zap.Int("resolved", resolved))
	}
	return resolved, nil
}
