// Package fees computes the server-side cost of a withdrawal. The breakdown
// is always computed here, never accepted from a client, because it
// determines how much leaves the wallet.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	apperrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// Calculator derives a FeeBreakdown from a withdrawal amount. It is pure
// and deterministic; the same amount always yields the same breakdown.
type Calculator struct {
	rate           decimal.Decimal // fractional rate, e.g. 0.005
	gatewayFeeMin  decimal.Decimal
	gatewayFeeMax  decimal.Decimal
	platformFeeMin decimal.Decimal
	platformFeeMax decimal.Decimal
	minWithdrawal  decimal.Decimal
}

// Config holds the fee parameters. Zero values fall back to the platform
// defaults: 0.5% with gateway clamp [20,100] and platform clamp [5,50],
// minimum withdrawal 100.
type Config struct {
	PercentBps     int
	GatewayFeeMin  decimal.Decimal
	GatewayFeeMax  decimal.Decimal
	PlatformFeeMin decimal.Decimal
	PlatformFeeMax decimal.Decimal
	MinWithdrawal  decimal.Decimal
}

// NewCalculator creates a fee calculator
func NewCalculator(cfg Config) *Calculator {
	if cfg.PercentBps == 0 {
		cfg.PercentBps = 50
	}
	if cfg.GatewayFeeMin.IsZero() {
		cfg.GatewayFeeMin = decimal.NewFromInt(20)
	}
	if cfg.GatewayFeeMax.IsZero() {
		cfg.GatewayFeeMax = decimal.NewFromInt(100)
	}
	if cfg.PlatformFeeMin.IsZero() {
		cfg.PlatformFeeMin = decimal.NewFromInt(5)
	}
	if cfg.PlatformFeeMax.IsZero() {
		cfg.PlatformFeeMax = decimal.NewFromInt(50)
	}
	if cfg.MinWithdrawal.IsZero() {
		cfg.MinWithdrawal = decimal.NewFromInt(100)
	}

	return &Calculator{
		rate:           decimal.New(int64(cfg.PercentBps), -4),
		gatewayFeeMin:  cfg.GatewayFeeMin,
		gatewayFeeMax:  cfg.GatewayFeeMax,
		platformFeeMin: cfg.PlatformFeeMin,
		platformFeeMax: cfg.PlatformFeeMax,
		minWithdrawal:  cfg.MinWithdrawal,
	}
}

// MinWithdrawal returns the smallest amount the calculator accepts
func (c *Calculator) MinWithdrawal() decimal.Decimal {
	return c.minWithdrawal
}

// Breakdown computes the fee breakdown for amount. It returns a validation
// error for non-positive amounts or amounts below the minimum.
func (c *Calculator) Breakdown(amount decimal.Decimal) (entities.FeeBreakdown, error) {
	if amount.LessThan(c.minWithdrawal) {
		return entities.FeeBreakdown{}, apperrors.ValidationError("amount",
			"amount is below the minimum withdrawal of "+c.minWithdrawal.String())
	}

	pct := amount.Mul(c.rate)
	gatewayFee := clamp(pct, c.gatewayFeeMin, c.gatewayFeeMax)
	platformFee := clamp(pct, c.platformFeeMin, c.platformFeeMax)
	totalFee := gatewayFee.Add(platformFee)

	return entities.FeeBreakdown{
		AmountToRecipient: amount,
		GatewayFee:        gatewayFee,
		PlatformFee:       platformFee,
		TotalFee:          totalFee,
		TotalDeduction:    amount.Add(totalFee),
	}, nil
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
