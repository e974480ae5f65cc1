// Package contract is the Contract Gateway: a resilient JSON-RPC-over-HTTP
// client for the external staking contract. Every verb is wrapped in its own
// circuit breaker and retrier, so a contract outage degrades to bounded
// retries rather than stalling a session coordinator's termination sequence.
package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"stakesession/pkg/resilience"
	"stakesession/pkg/retry"
	"stakesession/pkg/session"
)

// PoolResult is one registered entry of a stake pool as GetPools reports it:
// an account id and the Content payload of stakes listed against it.
type PoolResult struct {
	AccountID string          `json:"account_id"`
	Stakes    session.Content `json:"stakes"`
}

// Client talks to the staking contract's RPC surface over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retrier    *retry.Retrier
	breakers   map[string]*resilience.CircuitBreaker
}

// Config controls the gateway's endpoint and per-call timeout.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// DefaultConfig applies a conservative timeout suitable for an
// RPC call gating a session's settlement.
func DefaultConfig(endpoint string) Config {
	return Config{Endpoint: endpoint, Timeout: 10 * time.Second}
}

const (
	methodGetPools         = "get_pools"
	methodAssertPoolResult = "assert_pool_result"
	methodDistributeStakes = "distribute_stakes"
	methodGiveXP           = "give_xp"
	methodKillCharacter    = "kill_character"
)

// New builds a Client with one circuit breaker per RPC verb, matching the
// per-method isolation a Contract Gateway needs: a broken GiveXP call must
// not trip GetPools.
func New(cfg Config) *Client {
	c := &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retrier:    retry.NewRetrier(retry.NetworkRetryConfig()),
		breakers:   map[string]*resilience.CircuitBreaker{},
	}
	for _, method := range []string{
		methodGetPools, methodAssertPoolResult, methodDistributeStakes,
		methodGiveXP, methodKillCharacter,
	} {
		c.breakers[method] = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(method))
	}
	return c
}

// invoke posts a JSON-RPC body and decodes the result into out, wrapped in
// the method's circuit breaker and retrier. out may be nil for void calls.
func (c *Client) invoke(ctx context.Context, method string, params interface{}, out interface{}) error {
	logger := logrus.WithFields(logrus.Fields{"function": "invoke", "package": "contract", "method": method})

	breaker := c.breakers[method]
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(method))
		c.breakers[method] = breaker
	}

	return breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Execute(ctx, func(ctx context.Context) error {
			body, err := json.Marshal(map[string]interface{}{
				"method": method,
				"params": params,
			})
			if err != nil {
				return fmt.Errorf("%s: marshal request: %w", method, err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("%s: build request: %w", method, err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				logger.WithError(err).Warn("contract rpc transport failure")
				return fmt.Errorf("%s: do request: %w", method, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("%s: server error: status %d", method, resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return fmt.Errorf("%s: client error: status %d", method, resp.StatusCode)
			}

			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%s: decode response: %w", method, err)
			}
			return nil
		})
	})
}

// GetPools returns the stakes currently registered against poolID, keyed by
// the contract account each stands to receive, along with whether the pool
// has already been resolved on-chain.
func (c *Client) GetPools(ctx context.Context, poolID string) (results []PoolResult, resolved bool, err error) {
	var out struct {
		Results  []PoolResult `json:"results"`
		Resolved bool         `json:"resolved"`
	}
	if err := c.invoke(ctx, methodGetPools, map[string]string{"pool_id": poolID}, &out); err != nil {
		return nil, false, err
	}
	return out.Results, out.Resolved, nil
}

// AssertPoolResult registers the winning account against poolID. winner may
// be nil when no registered stake matched any session participant.
func (c *Client) AssertPoolResult(ctx context.Context, poolID string, winner *string) error {
	return c.invoke(ctx, methodAssertPoolResult, map[string]interface{}{
		"pool_id": poolID,
		"winner":  winner,
	}, nil)
}

// DistributeStakes triggers on-chain payout of poolID to its asserted
// winner.
func (c *Client) DistributeStakes(ctx context.Context, poolID string) error {
	return c.invoke(ctx, methodDistributeStakes, map[string]string{"pool_id": poolID}, nil)
}

// GiveXP credits accountID with xp accrued during a completed session.
func (c *Client) GiveXP(ctx context.Context, accountID string, xp uint64) error {
	return c.invoke(ctx, methodGiveXP, map[string]interface{}{
		"account_id": accountID,
		"xp":         xp,
	}, nil)
}

// KillCharacter records a character death against accountID, settling any
// death-triggered on-chain consequence.
func (c *Client) KillCharacter(ctx context.Context, accountID string) error {
	return c.invoke(ctx, methodKillCharacter, map[string]string{"account_id": accountID}, nil)
}
