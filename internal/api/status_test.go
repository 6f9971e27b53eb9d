package api

import (
	"encoding/json"
	"testing"

	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testProjector(t *testing.T, store *db.Store, now int64) *Projector {
	t.Helper()
	cfg := &config.Config{
		BuyIntervalSec:    3600,
		RewardIntervalSec: 7200,
		DryRun:            true,
	}
	p := NewProjector(store, cfg)
	p.nowFn = func() int64 { return now }
	return p
}

func TestSnapshot_EmptyStore(t *testing.T) {
	store := openTestStore(t)
	p := testProjector(t, store, 1000)

	view, err := p.Snapshot()
	if err != nil {
		t.Fatalf("empty store must still produce a view: %v", err)
	}
	if view.Now != 1000 || view.SourceOfTruth != "server" {
		t.Errorf("now/source = %d/%s", view.Now, view.SourceOfTruth)
	}
	if view.BotOnline || view.HeartbeatAgeSeconds != -1 {
		t.Errorf("no heartbeat must read offline/-1, got %v/%d", view.BotOnline, view.HeartbeatAgeSeconds)
	}
	if view.LastBuyTs != nil || view.NextBuyTs != nil || view.LastBuyTx != nil {
		t.Errorf("buy timings must be null on an empty store")
	}
	if view.LastRewardTxs == nil || len(view.LastRewardTxs) != 0 {
		t.Errorf("lastRewardTxs must be an empty array, got %v", view.LastRewardTxs)
	}
	if len(view.Checksum) != 16 {
		t.Errorf("checksum length = %d", len(view.Checksum))
	}
}

func TestSnapshot_HeartbeatLiveness(t *testing.T) {
	store := openTestStore(t)
	store.Heartbeat(1000)

	// 30 seconds old: online.
	p := testProjector(t, store, 1030)
	view, _ := p.Snapshot()
	if !view.BotOnline || view.HeartbeatAgeSeconds != 30 {
		t.Errorf("fresh heartbeat: online=%v age=%d", view.BotOnline, view.HeartbeatAgeSeconds)
	}

	// 90 seconds old: offline.
	p = testProjector(t, store, 1090)
	view, _ = p.Snapshot()
	if view.BotOnline {
		t.Errorf("stale heartbeat still reads online")
	}
}

func TestSnapshot_RoundTimings(t *testing.T) {
	store := openTestStore(t)
	store.InsertRound(&models.Round{ID: "b1", Type: models.RoundTypeBuy, Ts: 5000, Txs: []string{"buySig"}})
	store.InsertRound(&models.Round{ID: "r1", Type: models.RoundTypeReward, Ts: 6000, Txs: []string{"s1", "s2"}})

	p := testProjector(t, store, 7000)
	view, err := p.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if view.LastBuyTs == nil || *view.LastBuyTs != 5000 {
		t.Errorf("lastBuyTs = %v", view.LastBuyTs)
	}
	if view.NextBuyTs == nil || *view.NextBuyTs != 5000+3600 {
		t.Errorf("nextBuyTs = %v", view.NextBuyTs)
	}
	if view.LastBuyTx == nil || *view.LastBuyTx != "buySig" {
		t.Errorf("lastBuyTx = %v", view.LastBuyTx)
	}
	if view.NextRewardTs == nil || *view.NextRewardTs != 6000+7200 {
		t.Errorf("nextRewardTs = %v", view.NextRewardTs)
	}
	if len(view.LastRewardTxs) != 2 {
		t.Errorf("lastRewardTxs = %v", view.LastRewardTxs)
	}
}

func TestSnapshot_InProgressFromLocks(t *testing.T) {
	store := openTestStore(t)
	store.AcquireLock(models.LockBuyJob, 1)

	p := testProjector(t, store, 1000)
	view, _ := p.Snapshot()
	if !view.BuyInProgress {
		t.Errorf("held buy lock not reflected")
	}
	if view.RewardInProgress {
		t.Errorf("reward shows in progress without a lock")
	}
}

func TestSnapshot_SafeModeReason(t *testing.T) {
	store := openTestStore(t)
	store.EnterSafeMode("5 consecutive RPC errors")

	p := testProjector(t, store, 1000)
	view, _ := p.Snapshot()
	if !view.SafeMode {
		t.Errorf("safe mode not surfaced")
	}
	if view.SafeModeReason == nil || *view.SafeModeReason != "5 consecutive RPC errors" {
		t.Errorf("safeModeReason = %v", view.SafeModeReason)
	}

	store.ExitSafeMode()
	view, _ = p.Snapshot()
	if view.SafeMode || view.SafeModeReason != nil {
		t.Errorf("safe mode still surfaced after exit")
	}
}

func TestChecksum_DeterministicAndSensitive(t *testing.T) {
	ts := int64(5000)
	base := checksumFields{Now: 1000, BotOnline: true, LastBuyTs: &ts}

	a, err := Checksum(base)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	b, _ := Checksum(base)
	if a != b {
		t.Errorf("checksum not deterministic: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("checksum length = %d", len(a))
	}

	flipped := base
	flipped.SafeMode = true
	c, _ := Checksum(flipped)
	if c == a {
		t.Errorf("flipping safeMode did not change the checksum")
	}

	other := int64(5001)
	shifted := base
	shifted.LastBuyTs = &other
	d, _ := Checksum(shifted)
	if d == a {
		t.Errorf("shifting lastBuyTs did not change the checksum")
	}
}

func TestSnapshot_ChecksumVerifiableFromPayload(t *testing.T) {
	// A client must be able to recompute the checksum from the timing
	// fields of the serialized status payload alone.
	store := openTestStore(t)
	store.Heartbeat(990)
	store.InsertRound(&models.Round{ID: "b1", Type: models.RoundTypeBuy, Ts: 900, Txs: []string{"sig"}})

	p := testProjector(t, store, 1000)
	view, err := p.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	payload, _ := json.Marshal(view)
	var decoded StatusView
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	recomputed, _ := Checksum(checksumFields{
		Now:          decoded.Now,
		BotOnline:    decoded.BotOnline,
		SafeMode:     decoded.SafeMode,
		LastBuyTs:    decoded.LastBuyTs,
		LastRewardTs: decoded.LastRewardTs,
		NextBuyTs:    decoded.NextBuyTs,
		NextRewardTs: decoded.NextRewardTs,
	})
	if recomputed != decoded.Checksum {
		t.Errorf("client-side checksum %s != served %s", recomputed, decoded.Checksum)
	}
}
