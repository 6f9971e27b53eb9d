package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/lottery"
	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/internal/swap"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

const transferBatchDelay = 500 * time.Millisecond

// RewardJob distributes a fraction of the treasury's token balance to
// lottery-selected eligible holders: scan → refresh → eligible set →
// deterministic draw → batched transfers → round record.
type RewardJob struct {
	cfg       *config.Config
	store     *db.Store
	chain     Chain
	scanner   PreScanner
	refresher Refresher
	signer    *solana.Keypair
	treasury  string
	nowFn     func() int64
}

func NewRewardJob(cfg *config.Config, store *db.Store, chain Chain, sc PreScanner, rf Refresher, signer *solana.Keypair, treasury string) *RewardJob {
	return &RewardJob{
		cfg:       cfg,
		store:     store,
		chain:     chain,
		scanner:   sc,
		refresher: rf,
		signer:    signer,
		treasury:  treasury,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

func (j *RewardJob) Run(ctx context.Context) (*Result, error) {
	jobStart := j.nowFn()

	// The draw must see holder state consistent with the ledger head.
	if err := j.scanner.Incremental(ctx, j.cfg.ScanSignatureLimit); err != nil {
		return nil, fmt.Errorf("pre-reward scan: %w", err)
	}
	if err := j.refresher.RefreshAll(ctx); err != nil {
		return nil, fmt.Errorf("refresh balances: %w", err)
	}

	decimals, err := j.chain.GetTokenDecimals(ctx, j.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("get decimals: %w", err)
	}
	treasuryBalance, err := j.chain.GetTokenBalance(ctx, j.treasury, j.cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("get treasury token balance: %w", err)
	}
	if treasuryBalance.Sign() <= 0 {
		reason := "treasury token balance is zero"
		log.Printf("[RewardJob] Skipped: %s", reason)
		return &Result{Skipped: true, Reason: reason}, nil
	}

	pctBps := j.cfg.RewardPercentBps
	if j.cfg.MaxRewardPercentBps < pctBps {
		pctBps = j.cfg.MaxRewardPercentBps
	}
	distributeRaw := new(big.Int).Mul(treasuryBalance, big.NewInt(pctBps))
	distributeRaw.Div(distributeRaw, big.NewInt(10000))
	if distributeRaw.Sign() <= 0 {
		reason := "distribution amount rounds to zero"
		log.Printf("[RewardJob] Skipped: %s", reason)
		return &Result{Skipped: true, Reason: reason}, nil
	}

	now := j.nowFn()
	minAgeSec := int64(j.cfg.MinWalletAgeDays * 86400)
	eligible, err := j.store.EligibleHolders(now, minAgeSec, j.cfg.MinContinuitySec, j.cfg.MinCumulativeBuySol)
	if err != nil {
		return nil, fmt.Errorf("eligible holders: %w", err)
	}
	if len(eligible) == 0 {
		reason := "no eligible holders"
		log.Printf("[RewardJob] Skipped: %s", reason)
		return &Result{Skipped: true, Reason: reason}, nil
	}

	// Lottery context: a fresh blockhash makes the draw unpredictable ahead
	// of time yet reproducible afterwards from the round meta.
	blockhash, _, err := j.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get blockhash: %w", err)
	}
	seed := lottery.Seed(jobStart, j.cfg.TokenMint, blockhash)

	entries := make([]lottery.Entry, 0, len(eligible))
	uiBalances := make(map[string]float64, len(eligible))
	for _, h := range eligible {
		ageDays := float64(now-*h.FirstSeenTs) / 86400
		ui := rawToUi(h.BalanceRawOrZero(), decimals)
		uiBalances[h.Wallet] = ui
		entries = append(entries, lottery.Entry{
			Wallet: h.Wallet,
			Weight: lottery.Weight(ageDays, h.StreakRounds, h.TwbScore),
		})
	}

	winners := lottery.SelectWinners(entries, j.cfg.WinnersPerRound, seed)
	if len(winners) == 0 {
		reason := "lottery produced no winners"
		log.Printf("[RewardJob] Skipped: %s", reason)
		return &Result{Skipped: true, Reason: reason}, nil
	}

	perWinner := new(big.Int).Div(distributeRaw, big.NewInt(int64(len(winners))))
	txs, transferErrs := j.executeTransfers(ctx, winners, perWinner)

	// Every eligible holder, winner or not, advances streak and the
	// time-weighted balance accumulator.
	bumps := make([]db.StreakBump, 0, len(eligible))
	twbHours := float64(j.cfg.RewardIntervalSec) / 3600
	for _, h := range eligible {
		bumps = append(bumps, db.StreakBump{Wallet: h.Wallet, TwbDelta: uiBalances[h.Wallet] * twbHours})
	}
	if err := j.store.BumpStreaks(bumps); err != nil {
		log.Printf("[RewardJob] Failed to bump streaks: %v", err)
	}

	perWinnerUi := rawToUi(perWinner, decimals)
	totalUi := perWinnerUi * float64(len(winners))
	winnerWallets := make([]string, len(winners))
	for i, w := range winners {
		winnerWallets[i] = w.Wallet
	}
	eligibleMeta := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		eligibleMeta[i] = map[string]interface{}{"wallet": e.Wallet, "weight": e.Weight}
	}

	meta := map[string]interface{}{
		"winnersCount":        len(winners),
		"perWinnerUi":         perWinnerUi,
		"totalDistributedUi":  totalUi,
		"lotterySeed":         seed,
		"lotteryBlockhash":    blockhash,
		"lotteryTimestamp":    jobStart,
		"rewardPercentBps":    j.cfg.RewardPercentBps,
		"maxRewardPercentBps": j.cfg.MaxRewardPercentBps,
		"winners":             winnerWallets,
		"eligible":            eligibleMeta,
		"success":             len(transferErrs) == 0,
	}
	if len(transferErrs) > 0 {
		meta["transferErrors"] = transferErrs
	}

	round := &models.Round{
		ID:   uuid.New().String(),
		Type: models.RoundTypeReward,
		Ts:   jobStart,
		Txs:  txs,
		Meta: meta,
	}
	if err := j.store.InsertRound(round); err != nil {
		log.Printf("[RewardJob] Failed to persist round: %v", err)
	}
	writeRoundArtifacts(j.cfg.PublicDir, round)

	log.Printf("[RewardJob] Distributed %.6f to %d winners across %d txs (seed %d)",
		totalUi, len(winners), len(txs), seed)
	return &Result{Round: round}, nil
}

// executeTransfers sends perWinner raw units to each winner in batches of
// maxSendsPerTx. A failed batch is recorded and the remaining batches still
// run. In dry-run mode nothing is sent; two sentinel signatures stand in
// for the batches.
func (j *RewardJob) executeTransfers(ctx context.Context, winners []lottery.Entry, perWinner *big.Int) ([]string, []string) {
	if j.cfg.DryRun {
		log.Printf("[RewardJob] Dry run: simulating %d transfers of %s raw each", len(winners), perWinner)
		return []string{swap.DryRunSignature + "_REWARD_1", swap.DryRunSignature + "_REWARD_2"}, nil
	}

	treasuryPk := j.signer.Public
	mintPk, err := solana.PublicKeyFromBase58(j.cfg.TokenMint)
	if err != nil {
		return nil, []string{fmt.Sprintf("bad mint: %v", err)}
	}
	sourceATA, _, err := solana.FindAssociatedTokenAddress(treasuryPk, mintPk)
	if err != nil {
		return nil, []string{fmt.Sprintf("derive treasury ATA: %v", err)}
	}

	var (
		sigs []string
		errs []string
	)
	for start := 0; start < len(winners); start += j.cfg.MaxSendsPerTx {
		end := start + j.cfg.MaxSendsPerTx
		if end > len(winners) {
			end = len(winners)
		}

		if start > 0 {
			if err := sleepCtx(ctx, transferBatchDelay); err != nil {
				errs = append(errs, err.Error())
				break
			}
		}

		sig, err := j.sendBatch(ctx, winners[start:end], sourceATA, mintPk, perWinner)
		if err != nil {
			log.Printf("[RewardJob] Batch %d-%d failed: %v", start, end-1, err)
			errs = append(errs, err.Error())
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs, errs
}

func (j *RewardJob) sendBatch(ctx context.Context, batch []lottery.Entry, sourceATA, mintPk solana.PublicKey, perWinner *big.Int) (string, error) {
	var instructions []solana.Instruction
	for _, w := range batch {
		ownerPk, err := solana.PublicKeyFromBase58(w.Wallet)
		if err != nil {
			return "", fmt.Errorf("bad winner address %s: %w", w.Wallet, err)
		}
		ata, _, err := solana.FindAssociatedTokenAddress(ownerPk, mintPk)
		if err != nil {
			return "", fmt.Errorf("derive ATA for %s: %w", w.Wallet, err)
		}

		exists, err := j.chain.AccountExists(ctx, ata.String())
		if err != nil {
			return "", fmt.Errorf("check ATA for %s: %w", w.Wallet, err)
		}
		if !exists {
			instructions = append(instructions, solana.NewCreateATAInstruction(j.signer.Public, ata, ownerPk, mintPk))
		}
		instructions = append(instructions, solana.NewTokenTransferInstruction(sourceATA, ata, j.signer.Public, perWinner.Uint64()))
	}

	blockhash, _, err := j.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("batch blockhash: %w", err)
	}
	txB64, err := solana.BuildTransaction(instructions, blockhash, j.signer)
	if err != nil {
		return "", fmt.Errorf("build batch tx: %w", err)
	}
	return j.chain.SendTransaction(ctx, txB64)
}

func rawToUi(raw *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(raw)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	v, _ := f.Float64()
	return v
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
