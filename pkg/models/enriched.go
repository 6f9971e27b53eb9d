package models

import (
	"math/big"
	"strconv"
)

// EnrichedTx is the indexer's post-processed view of an on-chain transaction:
// typed transfers, per-account balance deltas and recognized swap events.
type EnrichedTx struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"`
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
	Events          TxEvents         `json:"events"`
	AccountData     []AccountData    `json:"accountData"`
}

type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"`
}

type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

type TxEvents struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// SwapEvent is the indexer's parsed swap: what went in natively and which
// token outputs came out.
type SwapEvent struct {
	NativeInput  *NativeIO     `json:"nativeInput,omitempty"`
	NativeOutput *NativeIO     `json:"nativeOutput,omitempty"`
	TokenInputs  []TokenIO     `json:"tokenInputs"`
	TokenOutputs []TokenIO     `json:"tokenOutputs"`
	InnerSwaps   []interface{} `json:"innerSwaps,omitempty"`
}

type NativeIO struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // lamports, stringified
}

type TokenIO struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"` // raw base units, stringified
	Decimals    int    `json:"decimals"`
}

type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"` // lamports
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// Lamports parses the stringified lamport amount, returning 0 on malformed
// input so one bad field never aborts a scan batch.
func (n *NativeIO) Lamports() int64 {
	if n == nil {
		return 0
	}
	v, err := strconv.ParseInt(n.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Raw parses the stringified raw token amount as an arbitrary-precision
// integer. Malformed input yields zero.
func (r RawTokenAmount) Raw() *big.Int {
	v, ok := new(big.Int).SetString(r.TokenAmount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
