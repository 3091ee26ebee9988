package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceCheckStatus marks a per-user reconciliation outcome
type BalanceCheckStatus string

const (
	BalanceCheckOK          BalanceCheckStatus = "OK"
	BalanceCheckDiscrepancy BalanceCheckStatus = "DISCREPANCY"
)

// DiscrepancyEpsilon tolerates currency rounding when diffing balances
var DiscrepancyEpsilon = decimal.RequireFromString("0.01")

// UserBalanceCheck compares the ledger's view of a single wallet against
// the gateway-side estimate derived from settled transactions. The estimate
// is a proxy: the gateway only exposes an aggregate balance, so the per-user
// figure is reconstructed from the transaction ledger.
type UserBalanceCheck struct {
	UserID         uuid.UUID          `json:"user_id"`
	SystemBalance  decimal.Decimal    `json:"system_balance"`
	GatewayBalance decimal.Decimal    `json:"gateway_balance"`
	// Difference is gateway side minus system side
	Difference decimal.Decimal    `json:"difference"`
	Status     BalanceCheckStatus `json:"status"`
}

// ReconciliationSummary aggregates the run
type ReconciliationSummary struct {
	TotalSystemBalance  decimal.Decimal `json:"total_system_balance"`
	TotalGatewayBalance decimal.Decimal `json:"total_gateway_balance"`
	TotalDifference     decimal.Decimal `json:"total_difference"`
	HighSeverity        bool            `json:"high_severity"`
}

// ReconciliationResult is the ephemeral report of one run. It is
// regenerated on each run and cached with a short TTL; it never mutates
// balances. Degraded marks runs where the gateway balance fetch failed, so
// a zero aggregate is not mistaken for confirmed missing funds.
type ReconciliationResult struct {
	CheckedAt    time.Time             `json:"checked_at"`
	Trigger      string                `json:"trigger"`
	Degraded     bool                  `json:"degraded"`
	PerUser      []UserBalanceCheck    `json:"per_user"`
	Summary      ReconciliationSummary `json:"summary"`
	Discrepant   int                   `json:"discrepant_users"`
	CheckedUsers int                   `json:"checked_users"`
}
