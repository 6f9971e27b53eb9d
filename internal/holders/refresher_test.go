package holders

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rawblock/flywheel-engine/internal/db"
)

const testMint = "Mint111111111111111111111111111111111111111"

type fakeBalances struct {
	balances map[string]*big.Int
	failing  map[string]bool
}

func (f *fakeBalances) GetTokenBalance(_ context.Context, owner, _ string) (*big.Int, error) {
	if f.failing[owner] {
		return nil, errors.New("rpc 503")
	}
	if b, ok := f.balances[owner]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRefreshAll_DecreaseResetsContinuity(t *testing.T) {
	store := openTestStore(t)
	store.EnsureHolder("seller", 1000)
	store.ApplyBalanceObservation("seller", big.NewInt(500), 1000)
	store.BumpStreaks([]db.StreakBump{{Wallet: "seller", TwbDelta: 3}})

	chain := &fakeBalances{balances: map[string]*big.Int{"seller": big.NewInt(400)}}
	r := NewRefresher(chain, store, testMint)
	r.nowFn = func() int64 { return 2000 }

	if err := r.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h, _ := store.GetHolder("seller")
	if h.LastBalanceRaw.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("balance not updated: %s", h.LastBalanceRaw)
	}
	if h.ContinuityStartTs != 2000 {
		t.Errorf("continuity must restart at observation time: %d", h.ContinuityStartTs)
	}
	if h.StreakRounds != 0 || h.TwbScore != 0 {
		t.Errorf("streak/twb not reset: %d/%f", h.StreakRounds, h.TwbScore)
	}
	if h.LastDecreaseTs == nil || *h.LastDecreaseTs != 2000 {
		t.Errorf("decrease time not stamped: %v", h.LastDecreaseTs)
	}
}

func TestRefreshAll_IncreaseKeepsHistory(t *testing.T) {
	store := openTestStore(t)
	store.EnsureHolder("hodler", 1000)
	store.ApplyBalanceObservation("hodler", big.NewInt(500), 1000)
	store.BumpStreaks([]db.StreakBump{{Wallet: "hodler", TwbDelta: 3}})

	chain := &fakeBalances{balances: map[string]*big.Int{"hodler": big.NewInt(600)}}
	r := NewRefresher(chain, store, testMint)
	r.nowFn = func() int64 { return 2000 }

	if err := r.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h, _ := store.GetHolder("hodler")
	if h.ContinuityStartTs != 1000 {
		t.Errorf("continuity reset on an increase: %d", h.ContinuityStartTs)
	}
	if h.StreakRounds != 1 || h.TwbScore != 3 {
		t.Errorf("streak/twb lost: %d/%f", h.StreakRounds, h.TwbScore)
	}
}

func TestRefreshAll_PerWalletFailureIsSkipped(t *testing.T) {
	store := openTestStore(t)
	store.EnsureHolder("good", 1000)
	store.EnsureHolder("flaky", 1000)

	chain := &fakeBalances{
		balances: map[string]*big.Int{"good": big.NewInt(9)},
		failing:  map[string]bool{"flaky": true},
	}
	r := NewRefresher(chain, store, testMint)
	r.nowFn = func() int64 { return 2000 }

	// One wallet failing must not abort the pass.
	if err := r.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh aborted: %v", err)
	}

	good, _ := store.GetHolder("good")
	if good.LastBalanceRaw.Cmp(big.NewInt(9)) != 0 {
		t.Errorf("good wallet not refreshed: %s", good.LastBalanceRaw)
	}
	flaky, _ := store.GetHolder("flaky")
	if flaky.LastBalanceCheckTs != 0 {
		t.Errorf("failed wallet should keep its old check time, got %d", flaky.LastBalanceCheckTs)
	}
}

func TestRefreshAll_CancelledContextStops(t *testing.T) {
	store := openTestStore(t)
	store.EnsureHolder("w", 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := &fakeBalances{failing: map[string]bool{"w": true}}
	r := NewRefresher(chain, store, testMint)
	if err := r.RefreshAll(ctx); err == nil {
		t.Errorf("expected context error, got nil")
	}
}
