package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

// heartbeatLiveness is how fresh the heartbeat must be for botOnline=true.
const heartbeatLiveness = 60

// StatusView is the externally visible state, assembled per request from
// the durable store.
type StatusView struct {
	Now                   int64    `json:"now"`
	SourceOfTruth         string   `json:"sourceOfTruth"`
	Checksum              string   `json:"checksum"`
	BotOnline             bool     `json:"botOnline"`
	HeartbeatAgeSeconds   int64    `json:"heartbeatAgeSeconds"`
	SafeMode              bool     `json:"safeMode"`
	SafeModeReason        *string  `json:"safeModeReason"`
	DryRun                bool     `json:"dryRun"`
	LastBuyTs             *int64   `json:"lastBuyTs"`
	LastRewardTs          *int64   `json:"lastRewardTs"`
	NextBuyTs             *int64   `json:"nextBuyTs"`
	NextRewardTs          *int64   `json:"nextRewardTs"`
	BuyIntervalSeconds    int64    `json:"buyIntervalSeconds"`
	RewardIntervalSeconds int64    `json:"rewardIntervalSeconds"`
	BuyInProgress         bool     `json:"buyInProgress"`
	RewardInProgress      bool     `json:"rewardInProgress"`
	LastBuyTx             *string  `json:"lastBuyTx"`
	LastRewardTxs         []string `json:"lastRewardTxs"`
}

// checksumFields are the timing-critical fields the content checksum
// covers, in fixed key order.
type checksumFields struct {
	Now          int64  `json:"now"`
	BotOnline    bool   `json:"botOnline"`
	SafeMode     bool   `json:"safeMode"`
	LastBuyTs    *int64 `json:"lastBuyTs"`
	LastRewardTs *int64 `json:"lastRewardTs"`
	NextBuyTs    *int64 `json:"nextBuyTs"`
	NextRewardTs *int64 `json:"nextRewardTs"`
}

// Checksum returns the first 16 hex chars of SHA-256 over the JSON of the
// timing fields, so the front-end can detect a tampered proxy.
func Checksum(f checksumFields) (string, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Projector derives the status view from the store.
type Projector struct {
	store *db.Store
	cfg   *config.Config
	nowFn func() int64
}

func NewProjector(store *db.Store, cfg *config.Config) *Projector {
	return &Projector{store: store, cfg: cfg, nowFn: func() int64 { return time.Now().Unix() }}
}

// Snapshot assembles the full status view. An empty store yields a valid
// view with null timing fields, never an error.
func (p *Projector) Snapshot() (*StatusView, error) {
	now := p.nowFn()
	view := &StatusView{
		Now:                   now,
		SourceOfTruth:         "server",
		HeartbeatAgeSeconds:   -1,
		DryRun:                p.cfg.DryRun,
		BuyIntervalSeconds:    p.cfg.BuyIntervalSec,
		RewardIntervalSeconds: p.cfg.RewardIntervalSec,
		LastRewardTxs:         []string{},
	}

	hb, err := p.store.HeartbeatTs()
	if err == nil {
		view.HeartbeatAgeSeconds = now - hb
		view.BotOnline = view.HeartbeatAgeSeconds < heartbeatLiveness
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("read heartbeat: %w", err)
	}

	safe, err := p.store.IsSafeMode()
	if err != nil {
		return nil, fmt.Errorf("read safe mode: %w", err)
	}
	view.SafeMode = safe
	if safe {
		reason, err := p.store.SafeModeReason()
		if err != nil {
			return nil, fmt.Errorf("read safe mode reason: %w", err)
		}
		view.SafeModeReason = &reason
	}

	if err := p.fillRound(view, models.RoundTypeBuy); err != nil {
		return nil, err
	}
	if err := p.fillRound(view, models.RoundTypeReward); err != nil {
		return nil, err
	}

	for _, lock := range []string{models.LockBuyJob, models.LockRewardJob} {
		held, err := p.store.IsLockHeld(lock)
		if err != nil {
			return nil, fmt.Errorf("read lock %s: %w", lock, err)
		}
		if lock == models.LockBuyJob {
			view.BuyInProgress = held
		} else {
			view.RewardInProgress = held
		}
	}

	checksum, err := Checksum(checksumFields{
		Now:          view.Now,
		BotOnline:    view.BotOnline,
		SafeMode:     view.SafeMode,
		LastBuyTs:    view.LastBuyTs,
		LastRewardTs: view.LastRewardTs,
		NextBuyTs:    view.NextBuyTs,
		NextRewardTs: view.NextRewardTs,
	})
	if err != nil {
		return nil, fmt.Errorf("compute checksum: %w", err)
	}
	view.Checksum = checksum
	return view, nil
}

// RecentRounds exposes the append-only round history, newest first.
func (p *Projector) RecentRounds(roundType string, limit int) ([]models.Round, error) {
	return p.store.RecentRounds(roundType, limit)
}

func (p *Projector) fillRound(view *StatusView, roundType string) error {
	round, err := p.store.LatestRound(roundType)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest %s round: %w", roundType, err)
	}

	ts := round.Ts
	if roundType == models.RoundTypeBuy {
		view.LastBuyTs = &ts
		next := ts + p.cfg.BuyIntervalSec
		view.NextBuyTs = &next
		if tx := round.FirstTx(); tx != "" {
			view.LastBuyTx = &tx
		}
	} else {
		view.LastRewardTs = &ts
		next := ts + p.cfg.RewardIntervalSec
		view.NextRewardTs = &next
		view.LastRewardTxs = round.Txs
	}
	return nil
}
