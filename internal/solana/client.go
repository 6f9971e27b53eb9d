package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client talks JSON-RPC to a chain node over HTTP POST.
type Client struct {
	Endpoint string

	httpClient *http.Client

	// Mint decimals never change; cache them process-wide.
	mu       sync.Mutex
	decimals map[string]int
}

func NewClient(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		decimals:   make(map[string]int),
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d: %s", method, httpResp.StatusCode, truncate(string(body), 200))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%s: unmarshal rpc response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CheckHealth verifies the node is reachable and reports "ok".
func (c *Client) CheckHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("getHealth: node reported %q", status)
	}
	return nil
}

// GetNativeBalance returns an address's native balance in lamports.
func (c *Client) GetNativeBalance(ctx context.Context, address string) (uint64, error) {
	var res struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{address}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// GetTokenBalance returns the raw token balance held by owner for mint via
// the canonical associated account. A non-existent account reads as zero.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	ownerPk, err := PublicKeyFromBase58(owner)
	if err != nil {
		return nil, err
	}
	mintPk, err := PublicKeyFromBase58(mint)
	if err != nil {
		return nil, err
	}
	ata, _, err := FindAssociatedTokenAddress(ownerPk, mintPk)
	if err != nil {
		return nil, err
	}

	var res struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"value"`
	}
	err = c.call(ctx, "getTokenAccountBalance", []interface{}{ata.String()}, &res)
	if err != nil {
		// The RPC errors when the account was never created; that is a
		// zero balance, not a failure.
		if strings.Contains(err.Error(), "could not find account") ||
			strings.Contains(err.Error(), "Invalid param: could not find") {
			return new(big.Int), nil
		}
		return nil, err
	}

	amount, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("getTokenAccountBalance: bad amount %q", res.Value.Amount)
	}
	return amount, nil
}

// GetTokenDecimals returns the mint's decimals, cached after the first fetch.
func (c *Client) GetTokenDecimals(ctx context.Context, mint string) (int, error) {
	c.mu.Lock()
	if d, ok := c.decimals[mint]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var res struct {
		Value struct {
			Decimals int `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &res); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.decimals[mint] = res.Value.Decimals
	c.mu.Unlock()
	log.Printf("[Chain] Cached decimals for %s: %d", mint, res.Value.Decimals)
	return res.Value.Decimals, nil
}

// GetLatestBlockhash returns a fresh blockhash and its expiry height.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, uint64, error) {
	var res struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", nil, &res); err != nil {
		return "", 0, err
	}
	return res.Value.Blockhash, res.Value.LastValidBlockHeight, nil
}

// SignatureInfo is one entry of a signature listing for an address.
type SignatureInfo struct {
	Signature string `json:"signature"`
	BlockTime *int64 `json:"blockTime"`
	Slot      uint64 `json:"slot"`
}

// GetSignaturesForAddress lists signatures newest-first, optionally starting
// before a known signature.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address, before string, limit int) ([]SignatureInfo, error) {
	opts := map[string]interface{}{"limit": limit}
	if before != "" {
		opts["before"] = before
	}
	var res []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// AccountExists reports whether the account has been created on-chain.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	var res struct {
		Value json.RawMessage `json:"value"`
	}
	params := []interface{}{address, map[string]interface{}{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return false, err
	}
	return len(res.Value) > 0 && string(res.Value) != "null", nil
}

// SendTransaction submits a base64-encoded signed transaction and returns
// its signature.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	params := []interface{}{txBase64, map[string]interface{}{
		"encoding":            "base64",
		"skipPreflight":       false,
		"preflightCommitment": "confirmed",
	}}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}
