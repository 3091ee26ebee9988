package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	apperrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// WalletRepository handles wallet persistence. It is the single point of
// truth for balance mutation: all changes go through the conditional
// updates below so they stay atomic across server instances.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create creates a new wallet record
func (r *WalletRepository) Create(ctx context.Context, wallet *entities.Wallet) error {
	query := `
		INSERT INTO wallets (user_id, balance, email, pin_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		wallet.UserID,
		wallet.Balance,
		wallet.Email,
		wallet.PinHash,
		wallet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByUserID retrieves a wallet by user ID
func (r *WalletRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	query := `
		SELECT user_id, balance, email, pin_hash, updated_at
		FROM wallets
		WHERE user_id = $1
	`

	var wallet entities.Wallet
	err := r.db.GetContext(ctx, &wallet, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundError("WALLET")
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// Decrement atomically subtracts amount from the wallet balance. The
// balance check and the write happen in one conditional statement so a
// concurrent decrement on the same wallet can never drive the balance
// negative. Returns ErrInsufficientFunds when the condition fails.
func (r *WalletRepository) Decrement(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE wallets
		SET balance = balance - $1, updated_at = $2
		WHERE user_id = $3 AND balance >= $1
	`

	result, err := r.db.ExecContext(ctx, query, amount, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to decrement wallet balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		wallet, getErr := r.GetByUserID(ctx, userID)
		if getErr != nil {
			return getErr
		}
		return apperrors.InsufficientFundsError(wallet.Balance, amount)
	}

	return nil
}

// Increment atomically adds amount to the wallet balance. Also used as the
// compensating action for failed withdrawals; callers guard against
// double-compensation.
func (r *WalletRepository) Increment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE wallets
		SET balance = balance + $1, updated_at = $2
		WHERE user_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, amount, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to increment wallet balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFoundError("WALLET")
	}

	return nil
}

// GetAll retrieves every wallet. Used by the reconciliation engine, which
// is read-only with respect to balances.
func (r *WalletRepository) GetAll(ctx context.Context) ([]*entities.Wallet, error) {
	query := `
		SELECT user_id, balance, email, pin_hash, updated_at
		FROM wallets
		ORDER BY user_id
	`

	var wallets []*entities.Wallet
	if err := r.db.SelectContext(ctx, &wallets, query); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	return wallets, nil
}

// EmailForUser resolves the notification address for a wallet owner
func (r *WalletRepository) EmailForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	query := `SELECT email FROM wallets WHERE user_id = $1`

	var email string
	if err := r.db.GetContext(ctx, &email, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return "", apperrors.NotFoundError("WALLET")
		}
		return "", fmt.Errorf("failed to resolve user email: %w", err)
	}
	if email == "" {
		return "", apperrors.NotFoundError("EMAIL")
	}
	return email, nil
}

// TotalBalance returns the sum of all wallet balances
func (r *WalletRepository) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(balance), 0) FROM wallets`

	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum wallet balances: %w", err)
	}

	return total, nil
}
