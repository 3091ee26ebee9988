// Package wallet exposes read access to wallet balances and transaction
// history.
package wallet

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// WalletReader provides balance lookups
type WalletReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error)
}

// TransactionReader provides ledger lookups
type TransactionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Transaction, error)
}

// Service answers wallet and ledger read queries
type Service struct {
	wallets      WalletReader
	transactions TransactionReader
	logger       *zap.Logger
}

// NewService creates a wallet read service
func NewService(wallets WalletReader, transactions TransactionReader, logger *zap.Logger) *Service {
	return &Service{wallets: wallets, transactions: transactions, logger: logger}
}

// GetWallet returns the wallet for a user
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	return s.wallets.GetByUserID(ctx, userID)
}

// GetTransaction returns a single ledger row owned by the user
func (s *Service) GetTransaction(ctx context.Context, userID, txID uuid.UUID) (*entities.Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		// hide other users' rows rather than acknowledging them
		return nil, domainerrors.NotFoundError("TRANSACTION")
	}
	return tx, nil
}

// ListTransactions returns a page of the user's ledger, newest first
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.GetByUserID(ctx, userID, limit, offset)
}
