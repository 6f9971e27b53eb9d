package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

// BuyJob converts part of the treasury's native balance into the configured
// token: balance → spendable → rate-capped amount → quote → execute →
// round record. The round is recorded even when the swap fails, so failed
// attempts still consume the interval slot.
type BuyJob struct {
	cfg      *config.Config
	store    *db.Store
	chain    Chain
	swapper  Swapper
	signer   *solana.Keypair
	treasury string
	nowFn    func() int64
}

func NewBuyJob(cfg *config.Config, store *db.Store, chain Chain, swapper Swapper, signer *solana.Keypair, treasury string) *BuyJob {
	return &BuyJob{
		cfg:      cfg,
		store:    store,
		chain:    chain,
		swapper:  swapper,
		signer:   signer,
		treasury: treasury,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

func (j *BuyJob) Run(ctx context.Context) (*Result, error) {
	jobStart := j.nowFn()

	lamports, err := j.chain.GetNativeBalance(ctx, j.treasury)
	if err != nil {
		return nil, fmt.Errorf("get native balance: %w", err)
	}
	balanceSol := float64(lamports) / lamportsPerSol

	spendable := balanceSol - j.cfg.FeeReserveSol
	if spendable < 0 {
		spendable = 0
	}
	actualBuy := math.Min(spendable, j.cfg.MaxBuyPerIntervalSol)

	if actualBuy < j.cfg.MinBuySol {
		reason := fmt.Sprintf("buy amount %.6f below minimum %.6f", actualBuy, j.cfg.MinBuySol)
		round := j.recordRound(jobStart, nil, map[string]interface{}{
			"solSpent":           actualBuy,
			"tokenReceived":      float64(0),
			"success":            false,
			"error":              reason,
			"safetyCap":          j.cfg.MaxBuyPerIntervalSol,
			"spendableBeforeCap": spendable,
		})
		log.Printf("[BuyJob] Skipped: %s", reason)
		return &Result{Skipped: true, Reason: reason, Round: round}, nil
	}

	inLamports := uint64(math.Floor(actualBuy * lamportsPerSol))
	quote, err := j.swapper.GetQuote(ctx, WSOLMint, j.cfg.TokenMint, inLamports, j.cfg.SlippageBps)
	if err != nil {
		j.recordRound(jobStart, nil, map[string]interface{}{
			"solSpent":           actualBuy,
			"tokenReceived":      float64(0),
			"success":            false,
			"error":              err.Error(),
			"safetyCap":          j.cfg.MaxBuyPerIntervalSol,
			"spendableBeforeCap": spendable,
		})
		return nil, fmt.Errorf("get quote: %w", err)
	}

	outcome := j.swapper.ExecuteSignedSwap(ctx, quote, j.signer)

	var txs []string
	if outcome.Success && outcome.Signature != "" {
		txs = []string{outcome.Signature}
	}
	meta := map[string]interface{}{
		"solSpent":           float64(outcome.InAmount) / lamportsPerSol,
		"tokenReceived":      float64(outcome.OutAmount),
		"success":            outcome.Success,
		"safetyCap":          j.cfg.MaxBuyPerIntervalSol,
		"spendableBeforeCap": spendable,
	}
	if outcome.Error != "" {
		meta["error"] = outcome.Error
	}
	round := j.recordRound(jobStart, txs, meta)

	if !outcome.Success {
		return &Result{Round: round}, fmt.Errorf("swap execute: %s", outcome.Error)
	}

	log.Printf("[BuyJob] Bought: spent %.6f SOL, received %d raw (tx %s)",
		float64(outcome.InAmount)/lamportsPerSol, outcome.OutAmount, outcome.Signature)
	return &Result{Round: round}, nil
}

func (j *BuyJob) recordRound(ts int64, txs []string, meta map[string]interface{}) *models.Round {
	if txs == nil {
		txs = []string{}
	}
	round := &models.Round{
		ID:   uuid.New().String(),
		Type: models.RoundTypeBuy,
		Ts:   ts,
		Txs:  txs,
		Meta: meta,
	}
	if err := j.store.InsertRound(round); err != nil {
		log.Printf("[BuyJob] Failed to persist round: %v", err)
	}
	writeRoundArtifacts(j.cfg.PublicDir, round)
	return round
}
