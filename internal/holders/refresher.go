// Package holders refreshes stored token balances against the chain and
// applies the continuity rules on observed decreases.
package holders

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/rawblock/flywheel-engine/internal/db"
)

const (
	batchSize  = 50
	batchDelay = 100 * time.Millisecond
)

// BalanceSource reads the current raw token balance for an owner.
type BalanceSource interface {
	GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)
}

type Refresher struct {
	chain BalanceSource
	store *db.Store
	mint  string
	nowFn func() int64
}

func NewRefresher(chain BalanceSource, store *db.Store, mint string) *Refresher {
	return &Refresher{chain: chain, store: store, mint: mint, nowFn: func() int64 { return time.Now().Unix() }}
}

// RefreshAll walks every known holder in rate-limited batches, records the
// fresh balance and resets continuity state on strict decreases. Per-wallet
// failures are skipped; they never corrupt the registry.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	wallets, err := r.store.Wallets()
	if err != nil {
		return err
	}

	var refreshed, decreased, failed int
	for i, wallet := range wallets {
		if i > 0 && i%batchSize == 0 {
			if err := sleepCtx(ctx, batchDelay); err != nil {
				return err
			}
		}

		balance, err := r.chain.GetTokenBalance(ctx, wallet, r.mint)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			continue
		}

		dec, err := r.store.ApplyBalanceObservation(wallet, balance, r.nowFn())
		if err != nil {
			failed++
			continue
		}
		refreshed++
		if dec {
			decreased++
		}
	}

	log.Printf("[Refresher] %d refreshed, %d decreases, %d skipped (of %d holders)",
		refreshed, decreased, failed, len(wallets))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
