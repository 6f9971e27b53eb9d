package scanner

import (
	"context"
	"testing"

	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

const testMint = "Mint111111111111111111111111111111111111111"

// fakeTxSource serves a fixed newest-first ledger with indexer-style
// pagination via the before parameter.
type fakeTxSource struct {
	txs     []models.EnrichedTx
	fetches int
}

func (f *fakeTxSource) FetchEnrichedTransactions(_ context.Context, _ string, limit int, before string) ([]models.EnrichedTx, error) {
	f.fetches++
	start := 0
	if before != "" {
		for i, tx := range f.txs {
			if tx.Signature == before {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.txs) {
		end = len(f.txs)
	}
	if start >= len(f.txs) {
		return nil, nil
	}
	return f.txs[start:end], nil
}

type fakeSigSource struct {
	history map[string][]solana.SignatureInfo
}

func (f *fakeSigSource) GetSignaturesForAddress(_ context.Context, address, before string, limit int) ([]solana.SignatureInfo, error) {
	return f.history[address], nil
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

func swapTx(sig string, ts int64, buyer string, lamportsIn string, rawOut string) models.EnrichedTx {
	return models.EnrichedTx{
		Signature: sig,
		Timestamp: ts,
		Type:      "SWAP",
		Events: models.TxEvents{
			Swap: &models.SwapEvent{
				NativeInput: &models.NativeIO{Account: buyer, Amount: lamportsIn},
				TokenOutputs: []models.TokenIO{
					{UserAccount: buyer, Mint: testMint, RawTokenAmount: models.RawTokenAmount{TokenAmount: rawOut, Decimals: 6}},
				},
			},
		},
	}
}

func TestScan_HighConfidenceSwapDetection(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{
		// 0.5 SOL in, tokens out on the mint.
		swapTx("sig1", 1000, "buyer1", "500000000", "123000000"),
	}}
	sc := New(txs, &fakeSigSource{}, store, testMint)

	if err := sc.Bootstrap(context.Background(), 10); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h, err := store.GetHolder("buyer1")
	if err != nil {
		t.Fatalf("buyer not registered: %v", err)
	}
	if h.CumulativeBuySol != 0.5 {
		t.Errorf("high-confidence spend = %f, want 0.5", h.CumulativeBuySol)
	}
	if h.CumulativeBuySolLowConfidence != 0 {
		t.Errorf("swap detection leaked into low-confidence bucket: %f", h.CumulativeBuySolLowConfidence)
	}
}

func TestScan_MediumConfidenceBalanceDelta(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{{
		Signature: "sig1",
		Timestamp: 1000,
		AccountData: []models.AccountData{{
			Account:             "buyer2",
			NativeBalanceChange: -50_000_000, // spent 0.05 SOL
			TokenBalanceChanges: []models.TokenBalanceChange{{
				UserAccount:    "buyer2",
				Mint:           testMint,
				RawTokenAmount: models.RawTokenAmount{TokenAmount: "7000000", Decimals: 6},
			}},
		}},
	}}}
	sc := New(txs, &fakeSigSource{}, store, testMint)

	if err := sc.Bootstrap(context.Background(), 10); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h, err := store.GetHolder("buyer2")
	if err != nil {
		t.Fatalf("buyer not registered: %v", err)
	}
	if h.CumulativeBuySol != 0 {
		t.Errorf("balance-delta detection must not count as high confidence: %f", h.CumulativeBuySol)
	}
	if h.CumulativeBuySolLowConfidence != 0.05 {
		t.Errorf("low-confidence spend = %f, want 0.05", h.CumulativeBuySolLowConfidence)
	}
}

func TestScan_FeeOnlyDeltaIgnored(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{{
		Signature: "sig1",
		Timestamp: 1000,
		AccountData: []models.AccountData{{
			Account:             "w",
			NativeBalanceChange: -5_000, // 0.000005 SOL, a bare fee
			TokenBalanceChanges: []models.TokenBalanceChange{{
				UserAccount:    "w",
				Mint:           testMint,
				RawTokenAmount: models.RawTokenAmount{TokenAmount: "100", Decimals: 6},
			}},
		}},
	}}}
	sc := New(txs, &fakeSigSource{}, store, testMint)
	if err := sc.Bootstrap(context.Background(), 10); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h, err := store.GetHolder("w")
	if err != nil {
		t.Fatalf("holder should still be discovered: %v", err)
	}
	if h.CumulativeBuySol != 0 || h.CumulativeBuySolLowConfidence != 0 {
		t.Errorf("fee-only delta recorded as buy: %f/%f", h.CumulativeBuySol, h.CumulativeBuySolLowConfidence)
	}
}

func TestScan_LowConfidenceTransferCorrelation(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{{
		Signature: "sig1",
		Timestamp: 1000,
		TokenTransfers: []models.TokenTransfer{
			{FromUserAccount: "pool", ToUserAccount: "buyer3", Mint: testMint, TokenAmount: 42},
		},
		NativeTransfers: []models.NativeTransfer{
			{FromUserAccount: "buyer3", ToUserAccount: "pool", Amount: 30_000_000},
		},
	}}}
	sc := New(txs, &fakeSigSource{}, store, testMint)
	if err := sc.Bootstrap(context.Background(), 10); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h, err := store.GetHolder("buyer3")
	if err != nil {
		t.Fatalf("buyer not registered: %v", err)
	}
	if h.CumulativeBuySolLowConfidence != 0.03 {
		t.Errorf("correlated spend = %f, want 0.03", h.CumulativeBuySolLowConfidence)
	}
	// The counterparty also becomes a registry entry.
	if _, err := store.GetHolder("pool"); err != nil {
		t.Errorf("counterparty not discovered: %v", err)
	}
}

func TestScan_CursorMakesRerunsIdempotent(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{
		swapTx("sigNew", 2000, "buyer", "100000000", "1000000"),
		swapTx("sigOld", 1000, "buyer", "100000000", "1000000"),
	}}
	sc := New(txs, &fakeSigSource{}, store, testMint)

	if err := sc.Incremental(context.Background(), 10); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	h, _ := store.GetHolder("buyer")
	if h.CumulativeBuySol != 0.2 {
		t.Fatalf("first scan total = %f, want 0.2", h.CumulativeBuySol)
	}

	// Second run over the identical ledger must stop at the cursor and
	// record nothing new.
	if err := sc.Incremental(context.Background(), 10); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	h, _ = store.GetHolder("buyer")
	if h.CumulativeBuySol != 0.2 {
		t.Errorf("re-scan double-counted buys: %f", h.CumulativeBuySol)
	}
}

func TestScan_CursorAdvancesToNewestSignature(t *testing.T) {
	store := openTestStore(t)
	txs := &fakeTxSource{txs: []models.EnrichedTx{
		swapTx("sigC", 3000, "w", "1000000000", "1"),
		swapTx("sigB", 2000, "w", "1000000000", "1"),
		swapTx("sigA", 1000, "w", "1000000000", "1"),
	}}
	sc := New(txs, &fakeSigSource{}, store, testMint)
	if err := sc.Incremental(context.Background(), 10); err != nil {
		t.Fatalf("scan: %v", err)
	}

	sig, ts, err := store.ScanCursor()
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if sig != "sigC" || ts != 3000 {
		t.Errorf("cursor = %q/%d, want sigC/3000", sig, ts)
	}
}

func TestScan_AgeBackfillFromSignatureHistory(t *testing.T) {
	store := openTestStore(t)
	old := int64(500)
	newer := int64(900)
	txs := &fakeTxSource{txs: []models.EnrichedTx{
		swapTx("sig1", 1000, "aged", "200000000", "5"),
	}}
	sigs := &fakeSigSource{history: map[string][]solana.SignatureInfo{
		"aged": {
			{Signature: "s2", BlockTime: &newer},
			{Signature: "s1", BlockTime: &old},
		},
	}}
	sc := New(txs, sigs, store, testMint)
	if err := sc.Bootstrap(context.Background(), 10); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	h, _ := store.GetHolder("aged")
	if h.FirstSeenTs == nil || *h.FirstSeenTs != 500 {
		t.Errorf("first_seen = %v, want 500 (oldest block time)", h.FirstSeenTs)
	}
}

func TestDetectBuys_SwapRuleWinsOverOthers(t *testing.T) {
	// A tx carrying both a parsed swap and correlated transfers must only
	// produce the high-confidence events.
	tx := swapTx("sig", 100, "buyer", "400000000", "9000000")
	tx.TokenTransfers = []models.TokenTransfer{
		{FromUserAccount: "pool", ToUserAccount: "buyer", Mint: testMint, TokenAmount: 9},
	}
	tx.NativeTransfers = []models.NativeTransfer{
		{FromUserAccount: "buyer", ToUserAccount: "pool", Amount: 400000000},
	}

	events := detectBuys(&tx, testMint)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Confidence != ConfidenceHigh {
		t.Errorf("confidence = %v, want high", events[0].Confidence)
	}
}

func TestDetectBuys_OtherMintIgnored(t *testing.T) {
	tx := swapTx("sig", 100, "buyer", "400000000", "9000000")
	tx.Events.Swap.TokenOutputs[0].Mint = "SomeOtherMint1111111111111111111111111111111"
	if events := detectBuys(&tx, testMint); len(events) != 0 {
		t.Errorf("swap on another mint produced events: %v", events)
	}
}
