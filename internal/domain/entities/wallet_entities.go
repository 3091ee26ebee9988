package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the per-user running balance. The balance column is guarded by
// a non-negative check constraint and is only ever mutated through the
// wallet repository's conditional update, never overwritten directly.
type Wallet struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Email     string          `db:"email" json:"email,omitempty"`
	PinHash   string          `db:"pin_hash" json:"-"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ErrorResponse is the standard error payload returned by the API
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
