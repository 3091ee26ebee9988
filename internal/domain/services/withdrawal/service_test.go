package withdrawal

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
	"github.com/vaultpay/wallet_service/internal/domain/services/fees"
)

const testPIN = "4321"

func testWallet(t *testing.T, balance int64) *entities.Wallet {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	require.NoError(t, err)
	return &entities.Wallet{
		UserID:  uuid.New(),
		Balance: decimal.NewFromInt(balance),
		PinHash: string(hash),
	}
}

func testRequest(userID uuid.UUID, amount int64) *entities.InitiateWithdrawalRequest {
	return &entities.InitiateWithdrawalRequest{
		UserID: userID,
		Amount: decimal.NewFromInt(amount),
		Counterparty: entities.CounterpartyAccount{
			AccountName:   "Jane Doe",
			AccountNumber: "0123456789",
			BankCode:      "058",
			BankName:      "First Bank",
		},
		Narration: "rent",
		PIN:       testPIN,
	}
}

func TestInitiate_HappyPath(t *testing.T) {
	wallet := testWallet(t, 10_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)
	gw := new(mockGateway)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)
	txs.On("Create", mock.Anything, mock.AnythingOfType("*entities.Transaction")).Return(nil)
	wallets.On("Decrement", mock.Anything, wallet.UserID,
		decEq(decimal.NewFromInt(5_050))).Return(nil)
	gw.On("Transfer", mock.Anything, mock.MatchedBy(func(req *gateway.TransferRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(5_000)) && req.AccountNumber == "0123456789"
	})).Return(&gateway.TransferResult{Status: "accepted", GatewayRef: "gw-1"}, nil)
	txs.On("MarkProcessing", mock.Anything, mock.AnythingOfType("uuid.UUID"), "gw-1",
		mock.Anything).Return(nil)

	svc := NewService(wallets, txs, gw, fees.NewCalculator(fees.Config{}),
		nopAuditor{}, nopNotifier{}, zap.NewNop())

	resp, err := svc.Initiate(context.Background(), testRequest(wallet.UserID, 5_000))
	require.NoError(t, err)

	assert.Equal(t, entities.TransactionStatusProcessing, resp.Status)
	assert.True(t, resp.Fees.GatewayFee.Equal(decimal.NewFromInt(25)))
	assert.True(t, resp.Fees.PlatformFee.Equal(decimal.NewFromInt(25)))
	assert.True(t, resp.Fees.TotalDeduction.Equal(decimal.NewFromInt(5_050)))
	assert.NotEmpty(t, resp.MerchantRef)

	wallets.AssertExpectations(t)
	txs.AssertExpectations(t)
	gw.AssertExpectations(t)
	wallets.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiate_SynchronousRejectionRefunds(t *testing.T) {
	wallet := testWallet(t, 10_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)
	gw := new(mockGateway)
	auditor := new(mockAuditor)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)
	txs.On("Create", mock.Anything, mock.Anything).Return(nil)
	wallets.On("Decrement", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050))).Return(nil)
	gw.On("Transfer", mock.Anything, mock.Anything).Return(
		&gateway.TransferResult{Status: "failed", Code: "51", Description: "insufficient rail float"},
		domainerrors.GatewayRejectedError("51", "insufficient rail float"))
	txs.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	wallets.On("Increment", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050))).Return(nil)
	auditor.On("RecordTransaction", mock.Anything, wallet.UserID, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return()

	svc := NewService(wallets, txs, gw, fees.NewCalculator(fees.Config{}),
		auditor, nopNotifier{}, zap.NewNop())

	_, err := svc.Initiate(context.Background(), testRequest(wallet.UserID, 5_000))
	require.Error(t, err)
	assert.True(t, domainerrors.IsGatewayRejected(err))

	// the debit and its compensating refund both happened
	wallets.AssertCalled(t, "Decrement", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050)))
	wallets.AssertCalled(t, "Increment", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050)))
	auditor.AssertCalled(t, "RecordTransaction", mock.Anything, wallet.UserID,
		entities.AuditActionRefundApplied, mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiate_InsufficientFundsPreflight(t *testing.T) {
	wallet := testWallet(t, 1_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)

	svc := NewService(wallets, txs, new(mockGateway), fees.NewCalculator(fees.Config{}),
		nopAuditor{}, nopNotifier{}, zap.NewNop())

	_, err := svc.Initiate(context.Background(), testRequest(wallet.UserID, 2_000))
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientFunds(err))

	// no ledger row is ever created for a pre-flight rejection
	txs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	wallets.AssertNotCalled(t, "Decrement", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiate_WrongPIN(t *testing.T) {
	wallet := testWallet(t, 10_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)

	svc := NewService(wallets, txs, new(mockGateway), fees.NewCalculator(fees.Config{}),
		nopAuditor{}, nopNotifier{}, zap.NewNop())

	req := testRequest(wallet.UserID, 5_000)
	req.PIN = "0000"
	_, err := svc.Initiate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domainerrors.IsUnauthorized(err))
	txs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInitiate_DebitRaceDeletesPendingRow(t *testing.T) {
	// pre-flight passes on a stale read but the conditional debit loses to a
	// concurrent withdrawal
	wallet := testWallet(t, 10_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)
	txs.On("Create", mock.Anything, mock.Anything).Return(nil)
	wallets.On("Decrement", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050))).
		Return(domainerrors.InsufficientFundsError(decimal.NewFromInt(100), decimal.NewFromInt(5_050)))
	txs.On("Delete", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil)

	svc := NewService(wallets, txs, new(mockGateway), fees.NewCalculator(fees.Config{}),
		nopAuditor{}, nopNotifier{}, zap.NewNop())

	_, err := svc.Initiate(context.Background(), testRequest(wallet.UserID, 5_000))
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientFunds(err))
	txs.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestInitiate_RefundFailureIsFlagged(t *testing.T) {
	wallet := testWallet(t, 10_000)
	wallets := new(mockWalletRepo)
	txs := new(mockTxRepo)
	gw := new(mockGateway)
	auditor := new(mockAuditor)

	wallets.On("GetByUserID", mock.Anything, wallet.UserID).Return(wallet, nil)
	txs.On("Create", mock.Anything, mock.Anything).Return(nil)
	wallets.On("Decrement", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050))).Return(nil)
	gw.On("Transfer", mock.Anything, mock.Anything).Return(nil,
		domainerrors.GatewayUnavailableError(context.DeadlineExceeded))
	txs.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	wallets.On("Increment", mock.Anything, wallet.UserID, decEq(decimal.NewFromInt(5_050))).
		Return(domainerrors.InternalError("connection reset", nil))
	txs.On("FlagRefundPending", mock.Anything, mock.AnythingOfType("uuid.UUID"),
		mock.AnythingOfType("string")).Return(nil)
	auditor.On("RecordTransaction", mock.Anything, wallet.UserID, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return()

	notifier := new(mockNotifier)
	notifier.On("NotifyWithdrawal", mock.Anything, wallet.UserID, mock.Anything).Return()

	svc := NewService(wallets, txs, gw, fees.NewCalculator(fees.Config{}),
		auditor, notifier, zap.NewNop())

	_, err := svc.Initiate(context.Background(), testRequest(wallet.UserID, 5_000))
	require.Error(t, err)

	// the failed refund is surfaced for manual recovery, never dropped
	auditor.AssertCalled(t, "RecordTransaction", mock.Anything, wallet.UserID,
		entities.AuditActionRefundFlagged, mock.Anything, mock.Anything, mock.Anything)

	// the ledger row and the notified transaction both carry the flag, so
	// nothing downstream reports the funds as returned
	txs.AssertCalled(t, "FlagRefundPending", mock.Anything, mock.Anything,
		mock.MatchedBy(func(reason string) bool {
			return strings.Contains(reason, "refund pending")
		}))
	notifier.AssertCalled(t, "NotifyWithdrawal", mock.Anything, wallet.UserID,
		mock.MatchedBy(func(tx *entities.Transaction) bool {
			return tx.RefundPending
		}))
}

func TestInitiate_BelowMinimum(t *testing.T) {
	wallets := new(mockWalletRepo)

	svc := NewService(wallets, new(mockTxRepo), new(mockGateway),
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	// a wrong PIN must not mask the amount error: the amount is validated
	// before the wallet is even read
	req := testRequest(uuid.New(), 50)
	req.PIN = "0000"
	_, err := svc.Initiate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvalidInput(err))
	assert.False(t, domainerrors.IsUnauthorized(err))
	wallets.AssertNotCalled(t, "GetByUserID", mock.Anything, mock.Anything)
}

func TestInitiate_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// 5,125 covers exactly five 1,000 withdrawals at 25 fee each. Ten
	// concurrent attempts must settle to exactly five dispatches and a zero
	// balance regardless of interleaving.
	wallet := testWallet(t, 5_125)
	store := newFakeWalletStore(wallet)
	ledger := newFakeTxStore()

	svc := NewService(store, ledger, acceptAllGateway{},
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Initiate(context.Background(), testRequest(wallet.UserID, 1_000))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, domainerrors.IsInsufficientFunds(err))
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.True(t, store.balance(wallet.UserID).IsZero(),
		"balance should be exhausted, got %s", store.balance(wallet.UserID))
	assert.Equal(t, 5, ledger.count(), "losing attempts must not leave ledger rows")
}
