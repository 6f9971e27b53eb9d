// Package jobs holds the two periodic job bodies: the treasury buyback and
// the lottery reward distribution.
package jobs

import (
	"context"
	"math/big"

	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/internal/swap"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

// WSOLMint is the wrapped native mint used as the swap input side.
const WSOLMint = "So11111111111111111111111111111111111111112"

const lamportsPerSol = 1_000_000_000

// Chain is the slice of the ledger adapter the jobs consume.
type Chain interface {
	GetNativeBalance(ctx context.Context, address string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)
	GetTokenDecimals(ctx context.Context, mint string) (int, error)
	GetLatestBlockhash(ctx context.Context) (string, uint64, error)
	AccountExists(ctx context.Context, address string) (bool, error)
	SendTransaction(ctx context.Context, txBase64 string) (string, error)
}

// Swapper is the quote/execute contract of the swap router client.
type Swapper interface {
	GetQuote(ctx context.Context, inMint, outMint string, amount uint64, slippageBps int) (*swap.Quote, error)
	ExecuteSignedSwap(ctx context.Context, quote *swap.Quote, signer *solana.Keypair) *swap.Outcome
}

// PreScanner runs an incremental ledger scan before rewards.
type PreScanner interface {
	Incremental(ctx context.Context, limit int) error
}

// Refresher refreshes holder balances before the draw.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Result is what a job invocation produced. Skips are outcomes, not errors;
// the round record is present whenever one was inserted.
type Result struct {
	Skipped bool
	Reason  string
	Round   *models.Round
}
