package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	apperrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// TransactionRepository handles transaction ledger persistence. Rows are
// append-mostly: after creation only status, settlement fields and gateway
// metadata change.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const txColumns = `
	id, user_id, kind, amount, fee, total_deduction, status, merchant_ref,
	gateway_ref, account_name, account_number, bank_code, bank_name,
	narration, gateway_response, failure_reason, refund_pending,
	created_at, settled_at
`

// txRow is the flat scan target for transaction queries
type txRow struct {
	ID              uuid.UUID                  `db:"id"`
	UserID          uuid.UUID                  `db:"user_id"`
	Kind            entities.TransactionKind   `db:"kind"`
	Amount          decimal.Decimal            `db:"amount"`
	Fee             decimal.Decimal            `db:"fee"`
	TotalDeduction  decimal.Decimal            `db:"total_deduction"`
	Status          entities.TransactionStatus `db:"status"`
	MerchantRef     string                     `db:"merchant_ref"`
	GatewayRef      *string                    `db:"gateway_ref"`
	AccountName     string                     `db:"account_name"`
	AccountNumber   string                     `db:"account_number"`
	BankCode        string                     `db:"bank_code"`
	BankName        string                     `db:"bank_name"`
	Narration       string                     `db:"narration"`
	GatewayResponse []byte                     `db:"gateway_response"`
	FailureReason   *string                    `db:"failure_reason"`
	RefundPending   bool                       `db:"refund_pending"`
	CreatedAt       time.Time                  `db:"created_at"`
	SettledAt       *time.Time                 `db:"settled_at"`
}

// jsonParam adapts a raw JSON payload for a jsonb column. pq would send a
// []byte as bytea, which postgres refuses to assign to jsonb; a string
// parameter is inferred from context. Empty payloads become NULL.
func jsonParam(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (row *txRow) toEntity() *entities.Transaction {
	return &entities.Transaction{
		ID:             row.ID,
		UserID:         row.UserID,
		Kind:           row.Kind,
		Amount:         row.Amount,
		Fee:            row.Fee,
		TotalDeduction: row.TotalDeduction,
		Status:         row.Status,
		MerchantRef:    row.MerchantRef,
		GatewayRef:     row.GatewayRef,
		Counterparty: entities.CounterpartyAccount{
			AccountName:   row.AccountName,
			AccountNumber: row.AccountNumber,
			BankCode:      row.BankCode,
			BankName:      row.BankName,
		},
		Narration:       row.Narration,
		GatewayResponse: row.GatewayResponse,
		FailureReason:   row.FailureReason,
		RefundPending:   row.RefundPending,
		CreatedAt:       row.CreatedAt,
		SettledAt:       row.SettledAt,
	}
}

// Create inserts a new transaction. A duplicate merchant_ref violates the
// unique constraint and surfaces as ErrConflict.
func (r *TransactionRepository) Create(ctx context.Context, tx *entities.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, kind, amount, fee, total_deduction, status,
			merchant_ref, account_name, account_number, bank_code, bank_name,
			narration, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Kind,
		tx.Amount,
		tx.Fee,
		tx.TotalDeduction,
		tx.Status,
		tx.MerchantRef,
		tx.Counterparty.AccountName,
		tx.Counterparty.AccountNumber,
		tx.Counterparty.BankCode,
		tx.Counterparty.BankName,
		tx.Narration,
		tx.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &apperrors.DomainError{
				Err:     apperrors.ErrConflict,
				Code:    "DUPLICATE_MERCHANT_REF",
				Message: "a transaction with this merchant reference already exists",
			}
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`

	var row txRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("TRANSACTION")
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return row.toEntity(), nil
}

// GetByMerchantRef retrieves a transaction by its idempotency key
func (r *TransactionRepository) GetByMerchantRef(ctx context.Context, merchantRef string) (*entities.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE merchant_ref = $1`

	var row txRow
	if err := r.db.GetContext(ctx, &row, query, merchantRef); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("TRANSACTION")
		}
		return nil, fmt.Errorf("failed to get transaction by merchant ref: %w", err)
	}

	return row.toEntity(), nil
}

// GetByUserID retrieves transactions for a user, newest first
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txs := make([]*entities.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toEntity())
	}
	return txs, nil
}

// MarkProcessing moves a pending transaction to processing once the
// gateway has accepted the transfer
func (r *TransactionRepository) MarkProcessing(ctx context.Context, id uuid.UUID, gatewayRef string, gatewayResponse []byte) error {
	query := `
		UPDATE transactions
		SET status = $1, gateway_ref = $2, gateway_response = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		entities.TransactionStatusProcessing, gatewayRef, jsonParam(gatewayResponse),
		id, entities.TransactionStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction processing: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundError("PENDING_TRANSACTION")
	}

	return nil
}

// MarkFailed marks a non-terminal transaction as failed with a reason
func (r *TransactionRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, gatewayResponse []byte) error {
	now := time.Now().UTC()
	query := `
		UPDATE transactions
		SET status = $1, failure_reason = $2, gateway_response = COALESCE($3, gateway_response), settled_at = $4
		WHERE id = $5 AND status IN ($6, $7)
	`

	result, err := r.db.ExecContext(ctx, query,
		entities.TransactionStatusFailed, reason, jsonParam(gatewayResponse), now,
		id, entities.TransactionStatusPending, entities.TransactionStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundError("TRANSACTION")
	}

	return nil
}

// FlagRefundPending marks a failed transaction whose compensating refund
// could not be applied. The flag drives manual recovery and keeps every
// user-facing surface from reporting the funds as returned.
func (r *TransactionRepository) FlagRefundPending(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE transactions
		SET refund_pending = TRUE, failure_reason = $1
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, reason, id, entities.TransactionStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to flag pending refund: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFoundError("FAILED_TRANSACTION")
	}

	return nil
}

// Settle atomically consumes the processing → terminal transition for the
// transaction identified by merchantRef and returns the settled row. The
// conditional update fires at most once per transaction, which is what
// makes webhook redelivery and the refund-on-failure path idempotent.
// Returns ErrSettlementConflict when the row is not in processing.
func (r *TransactionRepository) Settle(ctx context.Context, merchantRef string, finalStatus entities.TransactionStatus, failureReason *string, gatewayPayload []byte) (*entities.Transaction, error) {
	if !finalStatus.IsTerminal() {
		return nil, apperrors.ValidationError("status", "settlement status must be success or failed")
	}

	query := `
		UPDATE transactions
		SET status = $1, settled_at = $2, failure_reason = $3,
			gateway_response = COALESCE($4, gateway_response)
		WHERE merchant_ref = $5 AND status = $6
		RETURNING ` + txColumns

	var row txRow
	err := r.db.GetContext(ctx, &row, query,
		finalStatus, time.Now().UTC(), failureReason, jsonParam(gatewayPayload),
		merchantRef, entities.TransactionStatusProcessing,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			// Either the ref is unknown or the transition was already
			// consumed; the caller distinguishes the two.
			if _, lookupErr := r.GetByMerchantRef(ctx, merchantRef); lookupErr != nil {
				return nil, lookupErr
			}
			return nil, apperrors.SettlementConflictError(merchantRef)
		}
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}

	return row.toEntity(), nil
}

// Delete removes a transaction row. Only used to unwind a pending row
// whose balance reservation lost the race to a concurrent withdrawal.
func (r *TransactionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM transactions WHERE id = $1 AND status = $2`

	if _, err := r.db.ExecContext(ctx, query, id, entities.TransactionStatusPending); err != nil {
		return fmt.Errorf("failed to delete pending transaction: %w", err)
	}
	return nil
}

// SettledNetByUser computes, per user, the sum of settled CREDIT amounts
// minus settled DEBIT deductions. The reconciliation engine uses this as
// its gateway-side balance estimate.
func (r *TransactionRepository) SettledNetByUser(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error) {
	query := `
		SELECT user_id,
			COALESCE(SUM(CASE WHEN kind = $1 THEN amount ELSE -total_deduction END), 0) AS net
		FROM transactions
		WHERE status = $2
		GROUP BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, entities.TransactionKindCredit, entities.TransactionStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate settled transactions: %w", err)
	}
	defer rows.Close()

	net := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var userID uuid.UUID
		var sum decimal.Decimal
		if err := rows.Scan(&userID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan settled aggregate: %w", err)
		}
		net[userID] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settled aggregates: %w", err)
	}

	return net, nil
}

// ListStaleProcessing returns processing transactions dispatched before
// cutoff. The sweep worker uses this to chase settlements the webhook
// never delivered.
func (r *TransactionRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, entities.TransactionStatusProcessing, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale processing transactions: %w", err)
	}

	txs := make([]*entities.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toEntity())
	}
	return txs, nil
}

// ListStalePending returns pending transactions created before cutoff. A row
// can only stay pending that long if the process died between the debit and
// the gateway acknowledgment, so the sweep chases these too.
func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, entities.TransactionStatusPending, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}

	txs := make([]*entities.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toEntity())
	}
	return txs, nil
}
