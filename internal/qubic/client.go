package qubic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"qx-indexer/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 5
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// HTTPClient implements Client against the node's HTTP API.
// 429 and transient transport failures are retried with exponential backoff;
// 404 surfaces as ErrNotFound without retrying.
type HTTPClient struct {
	baseURL      string
	client       *http.Client
	maxRetries   uint64
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *zap.SugaredLogger
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets the maximum retry attempts per call.
func WithMaxRetries(n uint64) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial and maximum backoff delays.
func WithRetryDelay(initial, max time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.initialDelay = initial
		c.maxDelay = max
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.SugaredLogger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a node API client.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		logger:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

// get performs a GET with bounded exponential backoff and decodes the JSON
// response into out. method labels the call in metrics; paths carry tick
// numbers and identities, so they are unusable as a label.
func (c *HTTPClient) get(ctx context.Context, method, path string, out interface{}) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}
		defer resp.Body.Close()
		observability.RecordRPCLatency(method, time.Since(start).Seconds())

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response %s: %w", path, err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusTooManyRequests:
			observability.RecordRateLimited()
			c.logger.Debugw("rate limited by node, backing off", "path", path)
			return fmt.Errorf("get %s: %w", path, ErrRateLimited)
		case resp.StatusCode >= 500:
			return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("get %s: unexpected status %d: %s", path, resp.StatusCode, body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal %s: %w", path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialDelay
	b.MaxInterval = c.maxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// CurrentTick returns the node's latest tick.
func (c *HTTPClient) CurrentTick(ctx context.Context) (*TickInfo, error) {
	var result TickInfo
	if err := c.get(ctx, "status", "/v1/status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// tickTransactionsResult is the raw node response for tick transactions.
type tickTransactionsResult struct {
	Transactions []rawTransaction `json:"transactions"`
}

type rawTransaction struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	InputType   uint32 `json:"inputType"`
	InputSize   uint32 `json:"inputSize"`
	InputData   string `json:"inputData"` // base64
	TxID        string `json:"txId"`
}

// TickTransactions returns all transactions included in a tick.
func (c *HTTPClient) TickTransactions(ctx context.Context, tick uint32) ([]Transaction, error) {
	var result tickTransactionsResult
	if err := c.get(ctx, "tick_transactions", fmt.Sprintf("/v1/ticks/%d/transactions", tick), &result); err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(result.Transactions))
	for _, raw := range result.Transactions {
		input, err := base64.StdEncoding.DecodeString(raw.InputData)
		if err != nil {
			// Undecodable input cannot carry a trade; keep the transaction
			// with empty input so counts stay truthful.
			c.logger.Warnw("undecodable transaction input", "tick", tick, "tx", raw.TxID)
			input = nil
		}
		txs = append(txs, Transaction{
			Source:      raw.Source,
			Destination: raw.Destination,
			Amount:      raw.Amount,
			InputType:   raw.InputType,
			InputSize:   raw.InputSize,
			InputData:   input,
			TxID:        raw.TxID,
		})
	}
	return txs, nil
}

// balanceResult is the raw node response for a balance query.
type balanceResult struct {
	Balance string `json:"balance"`
}

// Balance returns the current balance of an identity.
func (c *HTTPClient) Balance(ctx context.Context, id string) (*big.Int, error) {
	var result balanceResult
	if err := c.get(ctx, "balance", "/v1/balances/"+id, &result); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(result.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("parse balance %q for %s", result.Balance, id)
	}
	return balance, nil
}
