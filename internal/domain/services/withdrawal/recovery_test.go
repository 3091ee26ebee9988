package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/adapters/gateway"
	"github.com/vaultpay/wallet_service/internal/domain/entities"
	"github.com/vaultpay/wallet_service/internal/domain/services/fees"
)

// abandonedTx builds a pending debit row as a crash between the debit and
// the gateway acknowledgment would leave it
func abandonedTx(userID uuid.UUID, ref string) *entities.Transaction {
	return &entities.Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		Kind:           entities.TransactionKindDebit,
		Amount:         decimal.NewFromInt(5_000),
		Fee:            decimal.NewFromInt(50),
		TotalDeduction: decimal.NewFromInt(5_050),
		Status:         entities.TransactionStatusPending,
		MerchantRef:    ref,
		CreatedAt:      time.Now().Add(-48 * time.Hour),
	}
}

func TestResolveAbandoned_NeverDispatchedRefunds(t *testing.T) {
	// balance already debited, row still pending, gateway never saw the ref
	wallet := testWallet(t, 4_950)
	store := newFakeWalletStore(wallet)
	ledger := newFakeTxStore()

	tx := abandonedTx(wallet.UserID, "VP-ghost")
	require.NoError(t, ledger.Create(context.Background(), tx))

	svc := NewService(store, ledger, acceptAllGateway{},
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	resolved, err := svc.ResolveAbandoned(context.Background(), tx, nil)
	require.NoError(t, err)
	assert.True(t, resolved)

	row, err := ledger.GetByMerchantRef(context.Background(), "VP-ghost")
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionStatusFailed, row.Status)
	assert.True(t, store.balance(wallet.UserID).Equal(decimal.NewFromInt(10_000)),
		"an undispatched debit must come back in full")
}

func TestResolveAbandoned_GatewayAlreadySettled(t *testing.T) {
	// crash after the gateway accepted; the transfer went through, keep the debit
	wallet := testWallet(t, 4_950)
	store := newFakeWalletStore(wallet)
	ledger := newFakeTxStore()

	tx := abandonedTx(wallet.UserID, "VP-done")
	require.NoError(t, ledger.Create(context.Background(), tx))

	svc := NewService(store, ledger, acceptAllGateway{},
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	resolved, err := svc.ResolveAbandoned(context.Background(), tx,
		&gateway.TransferStatus{MerchantTxRef: "VP-done", Status: "success"})
	require.NoError(t, err)
	assert.True(t, resolved)

	row, err := ledger.GetByMerchantRef(context.Background(), "VP-done")
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionStatusSuccess, row.Status)
	assert.True(t, store.balance(wallet.UserID).Equal(decimal.NewFromInt(4_950)),
		"a completed transfer keeps the debit")
}

func TestResolveAbandoned_InFlightPromotesToProcessing(t *testing.T) {
	wallet := testWallet(t, 4_950)
	store := newFakeWalletStore(wallet)
	ledger := newFakeTxStore()

	tx := abandonedTx(wallet.UserID, "VP-slow")
	require.NoError(t, ledger.Create(context.Background(), tx))

	svc := NewService(store, ledger, acceptAllGateway{},
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	resolved, err := svc.ResolveAbandoned(context.Background(), tx,
		&gateway.TransferStatus{MerchantTxRef: "VP-slow", Status: "processing"})
	require.NoError(t, err)
	assert.True(t, resolved)

	// back on the normal path: the webhook or the processing sweep finishes it
	row, err := ledger.GetByMerchantRef(context.Background(), "VP-slow")
	require.NoError(t, err)
	assert.Equal(t, entities.TransactionStatusProcessing, row.Status)
	assert.True(t, store.balance(wallet.UserID).Equal(decimal.NewFromInt(4_950)))
}

func TestResolveAbandoned_RejectsNonPendingRows(t *testing.T) {
	svc := NewService(new(mockWalletRepo), new(mockTxRepo), new(mockGateway),
		fees.NewCalculator(fees.Config{}), nopAuditor{}, nopNotifier{}, zap.NewNop())

	tx := abandonedTx(uuid.New(), "VP-x")
	tx.Status = entities.TransactionStatusProcessing
	_, err := svc.ResolveAbandoned(context.Background(), tx, nil)
	require.Error(t, err)
}
