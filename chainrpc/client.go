// Package chainrpc is a minimal JSON-RPC client for the handful of
// Ethereum endpoints the payment core needs: raw transaction submission,
// receipt polling, balance and contract reads, and EIP-1559 fee
// suggestion. It is not a general EVM client.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ReceiptPollInterval is the delay between receipt lookups while waiting
// for a transaction to be mined.
const ReceiptPollInterval = 2 * time.Second

// Client talks JSON-RPC to one chain endpoint. It is safe for
// concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
	nextID     atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// NewClient creates a JSON-RPC client for the given endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip and unmarshals the result.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// SendRawTransaction submits signed transaction bytes and returns the
// assigned transaction hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTxHex string) (string, error) {
	var txHash string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{signedTxHex}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// Log is one receipt log entry.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt is a mined transaction's receipt.
type Receipt struct {
	Status            string `json:"status"`
	BlockNumber       string `json:"blockNumber"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	Logs              []Log  `json:"logs"`
}

// Success reports whether the transaction executed without reverting.
func (r *Receipt) Success() bool {
	return r != nil && r.Status == "0x1"
}

// TransactionReceipt fetches a receipt. A nil receipt with nil error
// means the transaction is not mined yet.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// WaitForReceipt polls for a receipt until the timeout elapses or ctx is
// cancelled. A nil receipt with nil error means the wait timed out with
// the transaction still unmined; that is not a failure.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := c.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			c.log.Debug("receipt wait timed out", "txHash", txHash, "timeout", timeout)
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ReceiptPollInterval):
		}
	}
}

// Balance returns an address's native-token balance in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var hex string
	if err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"}, &hex); err != nil {
		return nil, err
	}
	return hexutil.DecodeBig(hex)
}

// CallContract performs a read-only eth_call against a contract and
// returns the hex-encoded result.
func (c *Client) CallContract(ctx context.Context, to, data string) (string, error) {
	var result string
	params := []interface{}{map[string]string{"to": to, "data": data}, "latest"}
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

// EstimateGas asks the node for a gas estimate for the given call.
func (c *Client) EstimateGas(ctx context.Context, from, to, value, data string) (uint64, error) {
	call := map[string]string{"from": from, "to": to}
	if value != "" {
		call["value"] = value
	}
	if data != "" {
		call["data"] = data
	}
	var hex string
	if err := c.call(ctx, "eth_estimateGas", []interface{}{call}, &hex); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(hex)
}

// SuggestFees derives EIP-1559 fee caps from the node's gas price: the
// priority fee is the node's suggestion capped at the gas price, and the
// max fee adds 10% headroom over the gas price.
func (c *Client) SuggestFees(ctx context.Context) (maxFee, maxPriority *big.Int, err error) {
	var gasPriceHex string
	if err := c.call(ctx, "eth_gasPrice", nil, &gasPriceHex); err != nil {
		return nil, nil, err
	}
	gasPrice, err := hexutil.DecodeBig(gasPriceHex)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode gas price: %w", err)
	}

	maxPriority = big.NewInt(1_000_000_000) // 1 gwei default
	var priorityHex string
	if err := c.call(ctx, "eth_maxPriorityFeePerGas", nil, &priorityHex); err == nil {
		if p, perr := hexutil.DecodeBig(priorityHex); perr == nil {
			maxPriority = p
		}
	}
	if maxPriority.Cmp(gasPrice) > 0 {
		maxPriority = new(big.Int).Set(gasPrice)
	}

	maxFee = new(big.Int).Mul(gasPrice, big.NewInt(11))
	maxFee.Div(maxFee, big.NewInt(10))
	return maxFee, maxPriority, nil
}
