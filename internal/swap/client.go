// Package swap wraps the third-party swap router's quote/execute HTTP API.
// In dry-run mode execution is simulated locally with a sentinel signature.
package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rawblock/flywheel-engine/internal/solana"
)

// DryRunSignature is the sentinel recorded for simulated swaps.
const DryRunSignature = "DRY_RUN_SIMULATED_SWAP"

// Quote is the router's quote response; the raw payload is kept so execution
// can echo it back untouched.
type Quote struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	InAmount    string `json:"inAmount"`
	OutAmount   string `json:"outAmount"`
	SlippageBps int    `json:"slippageBps"`

	raw json.RawMessage
}

// InLamports returns the quoted input amount.
func (q *Quote) InLamports() uint64 {
	v, _ := strconv.ParseUint(q.InAmount, 10, 64)
	return v
}

// OutRaw returns the quoted output amount in raw token units.
func (q *Quote) OutRaw() uint64 {
	v, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return v
}

// Outcome is the result of one swap execution attempt.
type Outcome struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
	InAmount  uint64 `json:"inAmount"`
	OutAmount uint64 `json:"outAmount"`
}

type Client struct {
	baseURL    string
	chain      *solana.Client
	dryRun     bool
	httpClient *http.Client
}

func NewClient(baseURL string, chain *solana.Client, dryRun bool) *Client {
	return &Client{
		baseURL:    baseURL,
		chain:      chain,
		dryRun:     dryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetQuote asks the router for an inMint→outMint quote.
func (c *Client) GetQuote(ctx context.Context, inMint, outMint string, amount uint64, slippageBps int) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, inMint, outMint, amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("swap quote: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap quote: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("swap quote: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap quote: http %d: %s", resp.StatusCode, string(body))
	}

	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("swap quote: unmarshal: %w", err)
	}
	q.raw = json.RawMessage(body)
	return &q, nil
}

// ExecuteSignedSwap turns a quote into a signed, submitted transaction. In
// dry-run mode it returns a synthetic success without any network I/O.
func (c *Client) ExecuteSignedSwap(ctx context.Context, quote *Quote, signer *solana.Keypair) *Outcome {
	if c.dryRun {
		log.Printf("[Swap] Dry run: simulating swap of %s lamports -> %s raw", quote.InAmount, quote.OutAmount)
		return &Outcome{
			Success:   true,
			Signature: DryRunSignature,
			InAmount:  quote.InLamports(),
			OutAmount: quote.OutRaw(),
		}
	}

	txB64, err := c.buildSwapTransaction(ctx, quote, signer.Public.String())
	if err != nil {
		return &Outcome{Error: err.Error(), InAmount: quote.InLamports()}
	}

	signed, err := signTransaction(txB64, signer)
	if err != nil {
		return &Outcome{Error: fmt.Sprintf("sign swap tx: %v", err), InAmount: quote.InLamports()}
	}

	sig, err := c.chain.SendTransaction(ctx, signed)
	if err != nil {
		return &Outcome{Error: err.Error(), InAmount: quote.InLamports()}
	}

	return &Outcome{
		Success:   true,
		Signature: sig,
		InAmount:  quote.InLamports(),
		OutAmount: quote.OutRaw(),
	}
}

// buildSwapTransaction asks the router to assemble the swap transaction for
// our public key.
func (c *Client) buildSwapTransaction(ctx context.Context, quote *Quote, userPublicKey string) (string, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"quoteResponse":    quote.raw,
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return "", fmt.Errorf("swap build: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("swap build: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("swap build: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("swap build: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("swap build: http %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("swap build: unmarshal: %w", err)
	}
	if out.SwapTransaction == "" {
		return "", fmt.Errorf("swap build: empty transaction in response")
	}
	return out.SwapTransaction, nil
}

// signTransaction fills the fee-payer signature slot of a router-assembled
// transaction: [compact sig count][64-byte sigs...][message].
func signTransaction(txB64 string, signer *solana.Keypair) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	numSigs, offset, err := readCompactU16(raw)
	if err != nil {
		return "", err
	}
	sigBytes := numSigs * 64
	if len(raw) < offset+sigBytes {
		return "", fmt.Errorf("truncated transaction")
	}

	message := raw[offset+sigBytes:]
	sig := signer.Sign(message)
	copy(raw[offset:offset+64], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

func readCompactU16(raw []byte) (int, int, error) {
	value, shift := 0, 0
	for i := 0; i < len(raw) && i < 3; i++ {
		b := raw[i]
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("bad compact-u16 prefix")
}
