package withdrawal

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
)

// decEq matches a decimal argument by numeric value. The service passes
// arithmetic results whose exponent differs from a literal of the same
// value, and testify's default comparison distinguishes the two.
func decEq(want decimal.Decimal) interface{} {
	return mock.MatchedBy(func(got decimal.Decimal) bool {
		return got.Equal(want)
	})
}

type mockWalletRepo struct {
	mock.Mock
}

func (m *mockWalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Wallet), args.Error(1)
}

func (m *mockWalletRepo) Decrement(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, amount)
	return args.Error(0)
}

func (m *mockWalletRepo) Increment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, amount)
	return args.Error(0)
}

type mockTxRepo struct {
	mock.Mock
}

func (m *mockTxRepo) Create(ctx context.Context, tx *entities.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockTxRepo) GetByMerchantRef(ctx context.Context, merchantRef string) (*entities.Transaction, error) {
	args := m.Called(ctx, merchantRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Transaction), args.Error(1)
}

func (m *mockTxRepo) MarkProcessing(ctx context.Context, id uuid.UUID, gatewayRef string, gatewayResponse []byte) error {
	args := m.Called(ctx, id, gatewayRef, gatewayResponse)
	return args.Error(0)
}

func (m *mockTxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, gatewayResponse []byte) error {
	args := m.Called(ctx, id, reason, gatewayResponse)
	return args.Error(0)
}

func (m *mockTxRepo) FlagRefundPending(ctx context.Context, id uuid.UUID, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockTxRepo) Settle(ctx context.Context, merchantRef string, finalStatus entities.TransactionStatus, failureReason *string, gatewayPayload []byte) (*entities.Transaction, error) {
	args := m.Called(ctx, merchantRef, finalStatus, failureReason, gatewayPayload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Transaction), args.Error(1)
}

func (m *mockTxRepo) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Transfer(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TransferResult), args.Error(1)
}

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) RecordTransaction(ctx context.Context, userID uuid.UUID, action entities.AuditAction, txID uuid.UUID, description string, metadata map[string]interface{}) {
	m.Called(ctx, userID, action, txID, description, metadata)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyWithdrawal(ctx context.Context, userID uuid.UUID, tx *entities.Transaction) {
	m.Called(ctx, userID, tx)
}

// nopAuditor and nopNotifier are used where the test does not assert on the
// side channels
type nopAuditor struct{}

func (nopAuditor) RecordTransaction(context.Context, uuid.UUID, entities.AuditAction, uuid.UUID, string, map[string]interface{}) {
}

type nopNotifier struct{}

func (nopNotifier) NotifyWithdrawal(context.Context, uuid.UUID, *entities.Transaction) {}

// fakeWalletStore is an in-memory wallet repository with the same
// conditional-update semantics as the SQL implementation: a decrement only
// succeeds if the balance covers it, checked and applied under one lock.
type fakeWalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*entities.Wallet
}

func newFakeWalletStore(wallets ...*entities.Wallet) *fakeWalletStore {
	s := &fakeWalletStore{wallets: make(map[uuid.UUID]*entities.Wallet)}
	for _, w := range wallets {
		s.wallets[w.UserID] = w
	}
	return s
}

func (s *fakeWalletStore) GetByUserID(_ context.Context, userID uuid.UUID) (*entities.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, domainerrors.NotFoundError("WALLET")
	}
	copied := *w
	return &copied, nil
}

func (s *fakeWalletStore) Decrement(_ context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return domainerrors.NotFoundError("WALLET")
	}
	if w.Balance.LessThan(amount) {
		return domainerrors.InsufficientFundsError(w.Balance, amount)
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

func (s *fakeWalletStore) Increment(_ context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return domainerrors.NotFoundError("WALLET")
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

func (s *fakeWalletStore) balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID].Balance
}

// fakeTxStore is an in-memory ledger used by the concurrency tests
type fakeTxStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*entities.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{rows: make(map[uuid.UUID]*entities.Transaction)}
}

func (s *fakeTxStore) Create(_ context.Context, tx *entities.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *tx
	s.rows[tx.ID] = &copied
	return nil
}

func (s *fakeTxStore) GetByMerchantRef(_ context.Context, merchantRef string) (*entities.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.rows {
		if tx.MerchantRef == merchantRef {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, domainerrors.NotFoundError("TRANSACTION")
}

func (s *fakeTxStore) MarkProcessing(_ context.Context, id uuid.UUID, gatewayRef string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok || tx.Status != entities.TransactionStatusPending {
		return domainerrors.NotFoundError("TRANSACTION")
	}
	tx.Status = entities.TransactionStatusProcessing
	tx.GatewayRef = &gatewayRef
	tx.GatewayResponse = raw
	return nil
}

func (s *fakeTxStore) MarkFailed(_ context.Context, id uuid.UUID, reason string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return domainerrors.NotFoundError("TRANSACTION")
	}
	tx.Status = entities.TransactionStatusFailed
	tx.FailureReason = &reason
	tx.GatewayResponse = raw
	return nil
}

func (s *fakeTxStore) FlagRefundPending(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok || tx.Status != entities.TransactionStatusFailed {
		return domainerrors.NotFoundError("FAILED_TRANSACTION")
	}
	tx.RefundPending = true
	tx.FailureReason = &reason
	return nil
}

func (s *fakeTxStore) Settle(_ context.Context, merchantRef string, finalStatus entities.TransactionStatus, failureReason *string, payload []byte) (*entities.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.rows {
		if tx.MerchantRef != merchantRef {
			continue
		}
		if tx.Status != entities.TransactionStatusProcessing {
			return nil, domainerrors.SettlementConflictError(merchantRef)
		}
		tx.Status = finalStatus
		tx.FailureReason = failureReason
		tx.GatewayResponse = payload
		copied := *tx
		return &copied, nil
	}
	return nil, domainerrors.NotFoundError("TRANSACTION")
}

func (s *fakeTxStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *fakeTxStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// acceptAllGateway accepts every transfer
type acceptAllGateway struct{}

func (acceptAllGateway) Transfer(_ context.Context, req *gateway.TransferRequest) (*gateway.TransferResult, error) {
	return &gateway.TransferResult{
		Status:     "accepted",
		GatewayRef: "gw-" + req.MerchantTxRef,
	}, nil
}
