package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultpay/wallet_service/internal/domain/entities"
	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
)

type fakeWalletLister struct {
	wallets []*entities.Wallet
	err     error
}

func (f *fakeWalletLister) GetAll(context.Context) ([]*entities.Wallet, error) {
	return f.wallets, f.err
}

type fakeLedger struct {
	net map[uuid.UUID]decimal.Decimal
}

func (f *fakeLedger) SettledNetByUser(context.Context) (map[uuid.UUID]decimal.Decimal, error) {
	return f.net, nil
}

type fakeGateway struct {
	balance decimal.Decimal
	err     error
	cleared bool
}

func (f *fakeGateway) GetAggregateBalance(context.Context, bool) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.balance, nil
}

func (f *fakeGateway) ClearBalanceCache(context.Context) error {
	f.cleared = true
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []entities.AuditAction
}

func (f *fakeAuditor) Record(_ context.Context, _ uuid.UUID, action entities.AuditAction, _ string, _ *uuid.UUID, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

// memCache is a minimal in-memory Cache for tests
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

func (m *memCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCache) DelPattern(context.Context, string) error { return nil }
func (m *memCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}
func (m *memCache) Ping(context.Context) error { return nil }
func (m *memCache) Close() error               { return nil }

func testConfig() *config.ReconciliationConfig {
	return &config.ReconciliationConfig{
		Enabled:            true,
		Schedule:           "*/30 * * * *",
		ResultCacheTTL:     300,
		SweepSchedule:      "0 * * * *",
		StaleAfterHours:    24,
		AggregateAlertUnit: "10000",
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRun_FlagsExactlyTheDriftedUsers(t *testing.T) {
	matched := &entities.Wallet{UserID: uuid.New(), Balance: dec("500.00")}
	drifted := &entities.Wallet{UserID: uuid.New(), Balance: dec("300.00")}
	rounding := &entities.Wallet{UserID: uuid.New(), Balance: dec("100.01")}

	svc := NewService(testConfig(),
		&fakeWalletLister{wallets: []*entities.Wallet{matched, drifted, rounding}},
		&fakeLedger{net: map[uuid.UUID]decimal.Decimal{
			matched.UserID:  dec("500.00"),
			drifted.UserID:  dec("250.00"),
			rounding.UserID: dec("100.00"), // within epsilon
		}},
		&fakeGateway{balance: dec("900.01")},
		newMemCache(), &fakeAuditor{}, zap.NewNop())

	result, err := svc.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 3, result.CheckedUsers)
	assert.Equal(t, 1, result.Discrepant)
	assert.False(t, result.Degraded)

	byUser := make(map[uuid.UUID]entities.UserBalanceCheck)
	for _, check := range result.PerUser {
		byUser[check.UserID] = check
	}
	assert.Equal(t, entities.BalanceCheckOK, byUser[matched.UserID].Status)
	assert.Equal(t, entities.BalanceCheckDiscrepancy, byUser[drifted.UserID].Status)
	assert.True(t, byUser[drifted.UserID].Difference.Equal(dec("-50.00")),
		"difference is gateway estimate minus system balance")
	assert.Equal(t, entities.BalanceCheckOK, byUser[rounding.UserID].Status,
		"a 0.01 difference is rounding, not drift")

	// aggregate: 900.01 system vs 900.01 gateway
	assert.True(t, result.Summary.TotalDifference.IsZero())
	assert.False(t, result.Summary.HighSeverity)
}

func TestRun_HighSeverityOnLargeAggregateDrift(t *testing.T) {
	w := &entities.Wallet{UserID: uuid.New(), Balance: dec("50000")}
	svc := NewService(testConfig(),
		&fakeWalletLister{wallets: []*entities.Wallet{w}},
		&fakeLedger{net: map[uuid.UUID]decimal.Decimal{w.UserID: dec("50000")}},
		&fakeGateway{balance: dec("30000")},
		newMemCache(), &fakeAuditor{}, zap.NewNop())

	result, err := svc.Run(context.Background(), "manual")
	require.NoError(t, err)
	assert.True(t, result.Summary.HighSeverity)
	assert.True(t, result.Summary.TotalDifference.Equal(dec("-20000")),
		"total difference is gateway balance minus system balance")
}

func TestRun_DegradesWhenGatewayUnavailable(t *testing.T) {
	w := &entities.Wallet{UserID: uuid.New(), Balance: dec("100")}
	svc := NewService(testConfig(),
		&fakeWalletLister{wallets: []*entities.Wallet{w}},
		&fakeLedger{net: map[uuid.UUID]decimal.Decimal{w.UserID: dec("100")}},
		&fakeGateway{err: errors.New("connection refused")},
		newMemCache(), &fakeAuditor{}, zap.NewNop())

	result, err := svc.Run(context.Background(), "scheduled")
	require.NoError(t, err, "a missing gateway side degrades the run, never fails it")
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, result.CheckedUsers)
	assert.False(t, result.Summary.HighSeverity,
		"a zero aggregate must not be read as confirmed missing funds")
}

func TestLatest_ServesCachedResult(t *testing.T) {
	w := &entities.Wallet{UserID: uuid.New(), Balance: dec("100")}
	lister := &fakeWalletLister{wallets: []*entities.Wallet{w}}
	svc := NewService(testConfig(), lister,
		&fakeLedger{net: map[uuid.UUID]decimal.Decimal{w.UserID: dec("100")}},
		&fakeGateway{balance: dec("100")},
		newMemCache(), &fakeAuditor{}, zap.NewNop())

	first, err := svc.Run(context.Background(), "manual")
	require.NoError(t, err)

	// poison the source; a cache hit must not touch it
	lister.err = errors.New("db down")

	latest, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Trigger, latest.Trigger)
	assert.Equal(t, first.CheckedUsers, latest.CheckedUsers)
}

func TestClearCache_ForcesFreshRun(t *testing.T) {
	w := &entities.Wallet{UserID: uuid.New(), Balance: dec("100")}
	gw := &fakeGateway{balance: dec("100")}
	auditor := &fakeAuditor{}
	svc := NewService(testConfig(),
		&fakeWalletLister{wallets: []*entities.Wallet{w}},
		&fakeLedger{net: map[uuid.UUID]decimal.Decimal{w.UserID: dec("100")}},
		gw, newMemCache(), auditor, zap.NewNop())

	_, err := svc.Run(context.Background(), "manual")
	require.NoError(t, err)

	require.NoError(t, svc.ClearCache(context.Background(), uuid.New()))
	assert.True(t, gw.cleared)
	assert.Contains(t, auditor.actions, entities.AuditActionCacheCleared)

	latest, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "on_demand", latest.Trigger, "cleared cache forces a fresh run")
}
