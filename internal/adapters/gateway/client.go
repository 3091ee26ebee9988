// Package gateway implements the client for the external payment rail that
// moves withdrawal funds to bank accounts.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	domainerrors "github.com/vaultpay/wallet_service/internal/domain/errors"
	"github.com/vaultpay/wallet_service/internal/infrastructure/cache"
	"github.com/vaultpay/wallet_service/internal/infrastructure/config"
	"github.com/vaultpay/wallet_service/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second

	tokenCacheKey   = "gateway:auth_token"
	balanceCacheKey = "gateway:aggregate_balance"
)

// TransferRequest is the outbound transfer payload
type TransferRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	BankCode      string          `json:"bank_code"`
	MerchantTxRef string          `json:"merchant_tx_ref"`
	Narration     string          `json:"narration"`
}

// TransferResult is the synchronous half of a transfer. Status "accepted"
// means settlement arrives later via webhook.
type TransferResult struct {
	Status      string `json:"status"`
	GatewayRef  string `json:"reference"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Raw         []byte `json:"-"`
}

// TransferStatus is the gateway's view of a previously dispatched transfer,
// used by the stale-processing sweep.
type TransferStatus struct {
	MerchantTxRef string `json:"merchant_tx_ref"`
	Status        string `json:"status"` // "processing", "success", "failed"
	Reason        string `json:"reason,omitempty"`
	Raw           []byte `json:"-"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type transferEnvelope struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Client talks to the payment rail. The auth token and the aggregate balance
// are read-through cached; both caches can be invalidated by operators.
type Client struct {
	config         *config.GatewayConfig
	httpClient     *http.Client
	cache          cache.Cache
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewClient creates a payment gateway client
func NewClient(cfg *config.GatewayConfig, c cache.Cache, logger *zap.Logger) *Client {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "PaymentGateway",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("gateway circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         cfg,
		httpClient:     &http.Client{Timeout: timeout},
		cache:          c,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         logger,
	}
}

// Transfer dispatches a withdrawal to the rail. It returns a TransferResult
// when the gateway answered definitively (accepted or rejected) and a
// GatewayUnavailableError when the outcome is unknown. The breaker is
// deliberately not used here: tripping it would turn unknown outcomes into
// guaranteed rejections for everyone behind it, and the orchestrator already
// handles unknown outcomes conservatively.
func (c *Client) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("transfer", "auth_error").Inc()
		return nil, domainerrors.GatewayUnavailableError(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("transfer", "unavailable").Inc()
		return nil, domainerrors.GatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("transfer", "unavailable").Inc()
		return nil, domainerrors.GatewayUnavailableError(err)
	}

	if resp.StatusCode >= 500 {
		metrics.GatewayRequests.WithLabelValues("transfer", "unavailable").Inc()
		return nil, domainerrors.GatewayUnavailableError(
			fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	var envelope transferEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		metrics.GatewayRequests.WithLabelValues("transfer", "unavailable").Inc()
		return nil, domainerrors.GatewayUnavailableError(
			fmt.Errorf("unparseable gateway response: %w", err))
	}

	result := &TransferResult{
		Status:      envelope.Status,
		GatewayRef:  envelope.Reference,
		Code:        envelope.Code,
		Description: envelope.Description,
		Raw:         raw,
	}

	if resp.StatusCode >= 400 || envelope.Status == "failed" {
		metrics.GatewayRequests.WithLabelValues("transfer", "rejected").Inc()
		desc := envelope.Description
		if desc == "" {
			desc = "transfer rejected by gateway"
		}
		return result, domainerrors.GatewayRejectedError(envelope.Code, desc)
	}

	metrics.GatewayRequests.WithLabelValues("transfer", "accepted").Inc()
	return result, nil
}

// GetTransferStatus queries the current state of a dispatched transfer by
// merchant reference
func (c *Client) GetTransferStatus(ctx context.Context, merchantRef string) (*TransferStatus, error) {
	endpoint := fmt.Sprintf("/v1/transfers/%s", url.PathEscape(merchantRef))

	var status TransferStatus
	raw, err := c.doAuthorized(ctx, http.MethodGet, endpoint, nil, &status)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("transfer_status", "error").Inc()
		return nil, fmt.Errorf("transfer status query failed: %w", err)
	}
	status.Raw = raw
	metrics.GatewayRequests.WithLabelValues("transfer_status", "ok").Inc()
	return &status, nil
}

// GetAggregateBalance returns the platform's balance on the rail. The value
// is cached; pass forceRefresh to bypass the cache.
func (c *Client) GetAggregateBalance(ctx context.Context, forceRefresh bool) (decimal.Decimal, error) {
	if !forceRefresh {
		var cached balanceResponse
		if err := c.cache.Get(ctx, balanceCacheKey, &cached); err == nil {
			return cached.Balance, nil
		}
	}

	var resp balanceResponse
	if _, err := c.doAuthorized(ctx, http.MethodGet, "/v1/balance", nil, &resp); err != nil {
		metrics.GatewayRequests.WithLabelValues("balance", "error").Inc()
		return decimal.Zero, fmt.Errorf("balance query failed: %w", err)
	}
	metrics.GatewayRequests.WithLabelValues("balance", "ok").Inc()

	ttl := time.Duration(c.config.BalanceCacheTTL) * time.Second
	if err := c.cache.Set(ctx, balanceCacheKey, resp, ttl); err != nil {
		c.logger.Warn("failed to cache gateway balance", zap.Error(err))
	}
	return resp.Balance, nil
}

// ClearTokenCache drops the cached auth token. Idempotent.
func (c *Client) ClearTokenCache(ctx context.Context) error {
	return c.cache.Del(ctx, tokenCacheKey)
}

// ClearBalanceCache drops the cached aggregate balance. Idempotent.
func (c *Client) ClearBalanceCache(ctx context.Context) error {
	return c.cache.Del(ctx, balanceCacheKey)
}

// authToken returns a cached auth token, fetching a fresh one on miss
func (c *Client) authToken(ctx context.Context) (string, error) {
	var cached tokenResponse
	if err := c.cache.Get(ctx, tokenCacheKey, &cached); err == nil && cached.AccessToken != "" {
		return cached.AccessToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     c.config.ClientID,
		"client_secret": c.config.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("gateway returned empty access token")
	}

	ttl := time.Duration(c.config.TokenTTL) * time.Second
	if token.ExpiresIn > 0 && time.Duration(token.ExpiresIn)*time.Second < ttl {
		ttl = time.Duration(token.ExpiresIn) * time.Second
	}
	if err := c.cache.Set(ctx, tokenCacheKey, token, ttl); err != nil {
		c.logger.Warn("failed to cache gateway token", zap.Error(err))
	}
	return token.AccessToken, nil
}

// doAuthorized performs an authorized request through the circuit breaker.
// Used for read paths where a tripped breaker is a safe fast-fail.
func (c *Client) doAuthorized(ctx context.Context, method, endpoint string, body, response interface{}) ([]byte, error) {
	raw, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doAuthorizedInternal(ctx, method, endpoint, body, response)
	})
	if err != nil {
		return nil, err
	}
	data, _ := raw.([]byte)
	return data, nil
}

func (c *Client) doAuthorizedInternal(ctx context.Context, method, endpoint string, body, response interface{}) ([]byte, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// token invalidated server-side; drop ours so the next call refreshes
		if delErr := c.cache.Del(ctx, tokenCacheKey); delErr != nil {
			c.logger.Warn("failed to evict stale gateway token", zap.Error(delErr))
		}
		return nil, fmt.Errorf("gateway rejected auth token")
	}
	if resp.StatusCode == http.StatusNotFound {
		// the sweep relies on this to tell a never-dispatched transfer apart
		// from a gateway outage
		return nil, domainerrors.NotFoundError("GATEWAY_RESOURCE")
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw))
	}

	if response != nil {
		if err := json.Unmarshal(raw, response); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return raw, nil
}
