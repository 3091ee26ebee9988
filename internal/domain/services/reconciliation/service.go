// Package reconciliation compares ledger balances against the payment
// gateway to detect drift. Runs are read-only: a discrepancy is reported
// for administrative resolution, never auto-corrected.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
	"github.com/vaultpay/wallet_service/pkg/metrics"
	"github.com/vaultpay/wallet_service/pkg/tracing"
)

const resultCacheKey = "reconciliation:latest"

// WalletLister reads wallet balances for a run
type WalletLister interface {
	GetAll(ctx context.Context) ([]*entities.Wallet, error)
}

// LedgerReader reconstructs per-user balances from settled transactions
type LedgerReader interface {
	SettledNetByUser(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error)
}

// GatewayBalancer reads the platform's aggregate balance on the rail
type GatewayBalancer interface {
	GetAggregateBalance(ctx context.Context, forceRefresh bool) (decimal.Decimal, error)
	ClearBalanceCache(ctx context.Context) error
}

// Auditor records administrative actions, best-effort
type Auditor interface {
	Record(ctx context.Context, actorID uuid.UUID, action entities.AuditAction, resourceType string, resourceID *uuid.UUID, description string, metadata map[string]interface{})
}

// Service runs reconciliation checks
type Service struct {
	config     *config.ReconciliationConfig
	wallets    WalletLister
	ledger     LedgerReader
	gateway    GatewayBalancer
	cache      cache.Cache
	auditor    Auditor
	logger     *zap.Logger
	alertLimit decimal.Decimal
}

// NewService creates a reconciliation service
func NewService(
	cfg *config.ReconciliationConfig,
	wallets WalletLister,
	ledger LedgerReader,
	gatewayClient GatewayBalancer,
	c cache.Cache,
	auditor Auditor,
	logger *zap.Logger,
) *Service {
	alertLimit, err := decimal.NewFromString(cfg.AggregateAlertUnit)
	if err != nil || !alertLimit.IsPositive() {
		alertLimit = decimal.NewFromInt(10_000)
	}
	return &Service{
		config:     cfg,
		wallets:    wallets,
		ledger:     ledger,
		gateway:    gatewayClient,
		cache:      c,
		auditor:    auditor,
		logger:     logger,
		alertLimit: alertLimit,
	}
}

// Run executes one reconciliation pass and caches the result. A failed
// gateway balance fetch degrades the run instead of failing it: the per-user
// checks still execute and the report says the aggregate side is missing.
func (s *Service) Run(ctx context.Context, trigger string) (*entities.ReconciliationResult, error) {
	ctx, span := tracing.GetTracer("reconciliation").Start(ctx, "reconciliation.Run",
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	metrics.ReconciliationRuns.WithLabelValues(trigger).Inc()
	s.logger.Info("reconciliation run started", zap.String("trigger", trigger))

	wallets, err := s.wallets.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	settledNet, err := s.ledger.SettledNetByUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate settled transactions: %w", err)
	}

	result := &entities.ReconciliationResult{
		CheckedAt:    time.Now().UTC(),
		Trigger:      trigger,
		PerUser:      make([]entities.UserBalanceCheck, 0, len(wallets)),
		CheckedUsers: len(wallets),
	}

	totalSystem := decimal.Zero
	for _, w := range wallets {
		// gateway exposes only an aggregate, so the per-user figure is an
		// estimate reconstructed from the settled ledger. Differences are
		// gateway side minus system side: positive means the rail holds
		// more than the wallet says.
		estimate := settledNet[w.UserID]
		diff := estimate.Sub(w.Balance)

		check := entities.UserBalanceCheck{
			UserID:         w.UserID,
			SystemBalance:  w.Balance,
			GatewayBalance: estimate,
			Difference:     diff,
			Status:         entities.BalanceCheckOK,
		}
		if diff.Abs().GreaterThan(entities.DiscrepancyEpsilon) {
			check.Status = entities.BalanceCheckDiscrepancy
			result.Discrepant++
			metrics.ReconciliationDiscrepancies.Inc()
		}
		result.PerUser = append(result.PerUser, check)
		totalSystem = totalSystem.Add(w.Balance)
	}

	result.Summary.TotalSystemBalance = totalSystem

	gatewayTotal, err := s.gateway.GetAggregateBalance(ctx, false)
	if err != nil {
		result.Degraded = true
		s.logger.Warn("gateway balance unavailable, reconciliation degraded", zap.Error(err))
	} else {
		result.Summary.TotalGatewayBalance = gatewayTotal
		result.Summary.TotalDifference = gatewayTotal.Sub(totalSystem)
		if result.Summary.TotalDifference.Abs().GreaterThanOrEqual(s.alertLimit) {
			result.Summary.HighSeverity = true
			s.logger.Error("aggregate balance drift exceeds alert limit",
				zap.String("total_system", totalSystem.String()),
				zap.String("total_gateway", gatewayTotal.String()),
				zap.String("difference", result.Summary.TotalDifference.String()))
		}
	}

	ttl := time.Duration(s.config.ResultCacheTTL) * time.Second
	if err := s.cache.Set(ctx, resultCacheKey, result, ttl); err != nil {
		s.logger.Warn("failed to cache reconciliation result", zap.Error(err))
	}

	s.auditor.Record(ctx, uuid.Nil, entities.AuditActionReconciliationRun, "reconciliation", nil,
		"reconciliation run completed", map[string]interface{}{
			"trigger":       trigger,
			"checked_users": result.CheckedUsers,
			"discrepant":    result.Discrepant,
			"degraded":      result.Degraded,
			"high_severity": result.Summary.HighSeverity,
		})

	s.logger.Info("reconciliation run completed",
		zap.Int("checked_users", result.CheckedUsers),
		zap.Int("discrepant", result.Discrepant),
		zap.Bool("degraded", result.Degraded))

	return result, nil
}

// Latest returns the cached result of the most recent run, falling back to
// a fresh run when the cache is empty
func (s *Service) Latest(ctx context.Context) (*entities.ReconciliationResult, error) {
	var cached entities.ReconciliationResult
	err := s.cache.Get(ctx, resultCacheKey, &cached)
	if err == nil {
		return &cached, nil
	}
	if err != cache.ErrCacheMiss {
		s.logger.Warn("failed to read cached reconciliation result", zap.Error(err))
	}
	return s.Run(ctx, "on_demand")
}

// ClearCache drops the cached reconciliation result and the cached gateway
// aggregate. Idempotent; used by operators to force the next run fresh.
func (s *Service) ClearCache(ctx context.Context, actorID uuid.UUID) error {
	if err := s.cache.Del(ctx, resultCacheKey); err != nil {
		return fmt.Errorf("failed to clear reconciliation cache: %w", err)
	}
	if err := s.gateway.ClearBalanceCache(ctx); err != nil {
		return fmt.Errorf("failed to clear gateway balance cache: %w", err)
	}
	s.auditor.Record(ctx, actorID, entities.AuditActionCacheCleared, "reconciliation", nil,
		"reconciliation caches cleared", nil)
	return nil
}
