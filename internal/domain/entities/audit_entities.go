package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the state transition being recorded
type AuditAction string

const (
	AuditActionWithdrawalInitiated AuditAction = "withdrawal_initiated"
	AuditActionWithdrawalDispatch  AuditAction = "withdrawal_dispatched"
	AuditActionWithdrawalRejected  AuditAction = "withdrawal_rejected"
	AuditActionWithdrawalSettled   AuditAction = "withdrawal_settled"
	AuditActionRefundApplied       AuditAction = "refund_applied"
	AuditActionRefundFlagged       AuditAction = "refund_flagged"
	AuditActionReconciliationRun   AuditAction = "reconciliation_run"
	AuditActionCacheCleared        AuditAction = "cache_cleared"
)

// AuditLog is an append-only record of a state transition
type AuditLog struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	ActorID      uuid.UUID              `db:"actor_id" json:"actor_id"`
	Action       AuditAction            `db:"action" json:"action"`
	ResourceType string                 `db:"resource_type" json:"resource_type"`
	ResourceID   *uuid.UUID             `db:"resource_id" json:"resource_id,omitempty"`
	Description  string                 `db:"description" json:"description"`
	Metadata     map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}
