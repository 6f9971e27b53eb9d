package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rawblock/flywheel-engine/internal/api"
	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/engine"
	"github.com/rawblock/flywheel-engine/internal/holders"
	"github.com/rawblock/flywheel-engine/internal/indexer"
	"github.com/rawblock/flywheel-engine/internal/jobs"
	"github.com/rawblock/flywheel-engine/internal/scanner"
	"github.com/rawblock/flywheel-engine/internal/scheduler"
	"github.com/rawblock/flywheel-engine/internal/solana"
	"github.com/rawblock/flywheel-engine/internal/swap"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

func main() {
	var (
		bootstrap    = flag.Bool("bootstrap", false, "replay the ledger from the head and rebuild the holder registry, then exit")
		onceBuy      = flag.Bool("once-buy", false, "run a single buy round and exit")
		onceReward   = flag.Bool("once-reward", false, "run a single reward round and exit")
		exitSafeMode = flag.Bool("exit-safe-mode", false, "clear the safe-mode latch and exit")
	)
	flag.Parse()

	if modeCount(*bootstrap, *onceBuy, *onceReward, *exitSafeMode) > 1 {
		log.Fatalf("FATAL: --bootstrap, --once-buy, --once-reward and --exit-safe-mode are mutually exclusive")
	}

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.PublicDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("FATAL: create directory %s: %v", dir, err)
		}
	}

	store, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("FATAL: open store: %v", err)
	}
	defer store.Close()

	if *exitSafeMode {
		if err := store.ExitSafeMode(); err != nil {
			log.Fatalf("FATAL: exit safe mode: %v", err)
		}
		log.Println("Safe mode cleared")
		return
	}

	chain := solana.NewClient(cfg.RPCURL)
	idx := indexer.NewClient(cfg.IndexerBaseURL, cfg.IndexerAPIKey)
	sc := scanner.New(idx, chain, store, cfg.TokenMint)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	healthCtx, healthCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := chain.CheckHealth(healthCtx); err != nil {
		log.Printf("Warning: RPC health check failed, continuing anyway: %v", err)
	}
	healthCancel()

	if *bootstrap {
		log.Printf("Bootstrapping holder registry (up to %d signatures)...", cfg.BootstrapSignatureLimit)
		if err := sc.Bootstrap(ctx, cfg.BootstrapSignatureLimit); err != nil {
			log.Fatalf("FATAL: bootstrap: %v", err)
		}
		log.Println("Bootstrap complete")
		return
	}

	// The signer is only required for live sends; dry runs can operate on
	// a watch-only treasury address.
	var signer *solana.Keypair
	treasury := cfg.TreasuryAddress
	if cfg.TreasuryKeyPath != "" {
		signer, err = solana.LoadKeypair(cfg.TreasuryKeyPath)
		if err != nil {
			log.Fatalf("FATAL: load treasury key: %v", err)
		}
		treasury = signer.Public.String()
	}

	swapper := swap.NewClient(cfg.SwapAPIBaseURL, chain, cfg.DryRun)
	refresher := holders.NewRefresher(chain, store, cfg.TokenMint)
	buyJob := jobs.NewBuyJob(cfg, store, chain, swapper, signer, treasury)
	rewardJob := jobs.NewRewardJob(cfg, store, chain, sc, refresher, signer, treasury)

	hub := api.NewHub()
	go hub.Run()

	eng := engine.New(store, cfg.MaxRPCErrorsBeforePause, hub.BroadcastSafeMode)

	if *onceBuy || *onceReward {
		runOnce(ctx, cfg, eng, buyJob, rewardJob, *onceBuy)
		return
	}

	projector := api.NewProjector(store, cfg)
	router := api.SetupRouter(projector, hub, cfg.AllowedOrigin)
	sched := scheduler.New(cfg, store, eng, buyJob, rewardJob, sc, chain, hub, treasury)

	log.Printf("Starting flywheel engine (dry_run=%v, treasury=%s, mint=%s)", cfg.DryRun, treasury, cfg.TokenMint)
	if err := sched.Run(ctx, router); err != nil {
		log.Fatalf("FATAL: scheduler: %v", err)
	}
}

// modeCount reports how many one-shot mode flags were set together.
func modeCount(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// runOnce executes a single job round under the same engine machinery the
// scheduler uses, then exits.
func runOnce(ctx context.Context, cfg *config.Config, eng *engine.Engine, buyJob *jobs.BuyJob, rewardJob *jobs.RewardJob, buy bool) {
	lockType := models.LockRewardJob
	timeout := time.Duration(cfg.RewardJobTimeoutMs) * time.Millisecond
	run := func(jobCtx context.Context) error {
		_, err := rewardJob.Run(jobCtx)
		return err
	}
	if buy {
		lockType = models.LockBuyJob
		timeout = time.Duration(cfg.BuyJobTimeoutMs) * time.Millisecond
		run = func(jobCtx context.Context) error {
			_, err := buyJob.Run(jobCtx)
			return err
		}
	}

	outcome := eng.Execute(ctx, lockType, timeout, run)
	log.Printf("%s finished: %s", lockType, outcome.Status)
	if outcome.Err != nil {
		log.Printf("%s error: %v", lockType, outcome.Err)
		os.Exit(1)
	}
}
