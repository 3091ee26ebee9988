package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes money entering vs leaving a wallet
type TransactionKind string

const (
	TransactionKindCredit TransactionKind = "CREDIT"
	TransactionKindDebit  TransactionKind = "DEBIT"
)

// TransactionStatus represents the withdrawal state machine
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusFailed
}

// CounterpartyAccount identifies the external bank account receiving a
// withdrawal
type CounterpartyAccount struct {
	AccountName   string `db:"account_name" json:"account_name" binding:"required" validate:"required"`
	AccountNumber string `db:"account_number" json:"account_number" binding:"required" validate:"required,min=6,max=20,numeric"`
	BankCode      string `db:"bank_code" json:"bank_code" binding:"required" validate:"required"`
	BankName      string `db:"bank_name" json:"bank_name"`
}

// Transaction is a ledger row. total_deduction = amount + fee is fixed at
// creation; only status, settled_at, failure_reason and gateway fields
// mutate afterwards.
type Transaction struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	UserID          uuid.UUID           `db:"user_id" json:"user_id"`
	Kind            TransactionKind     `db:"kind" json:"kind"`
	Amount          decimal.Decimal     `db:"amount" json:"amount"`
	Fee             decimal.Decimal     `db:"fee" json:"fee"`
	TotalDeduction  decimal.Decimal     `db:"total_deduction" json:"total_deduction"`
	Status          TransactionStatus   `db:"status" json:"status"`
	MerchantRef     string              `db:"merchant_ref" json:"merchant_ref"`
	GatewayRef      *string             `db:"gateway_ref" json:"gateway_ref,omitempty"`
	Counterparty    CounterpartyAccount `json:"counterparty"`
	Narration       string              `db:"narration" json:"narration,omitempty"`
	GatewayResponse []byte              `db:"gateway_response" json:"-"`
	FailureReason   *string             `db:"failure_reason" json:"failure_reason,omitempty"`
	RefundPending   bool                `db:"refund_pending" json:"refund_pending,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	SettledAt       *time.Time          `db:"settled_at" json:"settled_at,omitempty"`
}

// FeeBreakdown is the server-computed cost of a withdrawal. It is derived,
// never persisted on its own and never accepted from a client.
type FeeBreakdown struct {
	AmountToRecipient decimal.Decimal `json:"amount_to_recipient"`
	GatewayFee        decimal.Decimal `json:"gateway_fee"`
	PlatformFee       decimal.Decimal `json:"platform_fee"`
	TotalFee          decimal.Decimal `json:"total_fee"`
	TotalDeduction    decimal.Decimal `json:"total_deduction"`
}

// InitiateWithdrawalRequest is the inbound withdrawal payload
type InitiateWithdrawalRequest struct {
	UserID       uuid.UUID           `json:"-"`
	Amount       decimal.Decimal     `json:"amount" binding:"required" validate:"required"`
	Counterparty CounterpartyAccount `json:"counterparty" binding:"required" validate:"required"`
	Narration    string              `json:"narration" validate:"max=140"`
	PIN          string              `json:"pin" binding:"required" validate:"required,len=4,numeric"`
}

// InitiateWithdrawalResponse is returned once the gateway has accepted or
// rejected the transfer
type InitiateWithdrawalResponse struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	MerchantRef   string            `json:"merchant_ref"`
	Status        TransactionStatus `json:"status"`
	Fees          FeeBreakdown      `json:"fees"`
}

// SettlementNotice is the inbound webhook payload finalizing a processing
// transaction
type SettlementNotice struct {
	MerchantRef string            `json:"merchant_tx_ref" binding:"required"`
	Status      TransactionStatus `json:"status" binding:"required"`
	Reason      string            `json:"reason,omitempty"`
	Payload     []byte            `json:"-"`
}
