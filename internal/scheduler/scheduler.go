// Package scheduler drives the periodic jobs off the wall clock: buy and
// reward ticks with timing and balance guards, a ten-minute ledger scan,
// the liveness heartbeat and the status server lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rawblock/flywheel-engine/internal/api"
	"github.com/rawblock/flywheel-engine/internal/config"
	"github.com/rawblock/flywheel-engine/internal/db"
	"github.com/rawblock/flywheel-engine/internal/engine"
	"github.com/rawblock/flywheel-engine/internal/jobs"
	"github.com/rawblock/flywheel-engine/pkg/models"
)

const (
	heartbeatInterval = 30 * time.Second
	scanEveryMinutes  = 10
	scanDrainTimeout  = 30 * time.Second
	lamportsPerSol    = 1_000_000_000
)

// ScanRunner is the slice of the scanner the scheduler drives.
type ScanRunner interface {
	Incremental(ctx context.Context, limit int) error
}

// Executor runs a job body under the durable lock and safe-mode machinery.
type Executor interface {
	Execute(ctx context.Context, lockType string, timeout time.Duration, run func(ctx context.Context) error) engine.Outcome
}

// Scheduler owns the timer loop. Jobs run inside the execution engine;
// scans run on a background goroutine guarded by a process-local flag.
type Scheduler struct {
	cfg      *config.Config
	store    *db.Store
	engine   Executor
	buy      *jobs.BuyJob
	reward   *jobs.RewardJob
	scanner  ScanRunner
	chain    jobs.Chain
	hub      *api.Hub
	treasury string

	minRewardRaw *big.Int

	mu           sync.Mutex
	scanRunning  bool
	shuttingDown bool
	scanWG       sync.WaitGroup
}

func New(cfg *config.Config, store *db.Store, eng Executor, buy *jobs.BuyJob, reward *jobs.RewardJob, sc ScanRunner, chain jobs.Chain, hub *api.Hub, treasury string) *Scheduler {
	minRaw, ok := new(big.Int).SetString(cfg.MinRewardTokenBalanceRaw, 10)
	if !ok || minRaw.Sign() < 0 {
		log.Printf("[Scheduler] Invalid MIN_REWARD_TOKEN_BALANCE_RAW %q, using 1", cfg.MinRewardTokenBalanceRaw)
		minRaw = big.NewInt(1)
	}
	return &Scheduler{
		cfg:          cfg,
		store:        store,
		engine:       eng,
		buy:          buy,
		reward:       reward,
		scanner:      sc,
		chain:        chain,
		hub:          hub,
		treasury:     treasury,
		minRewardRaw: minRaw,
	}
}

// Run blocks until ctx is cancelled, then shuts down gracefully: the
// status server stops, new triggers no-op and the in-flight scan gets a
// bounded drain window.
func (s *Scheduler) Run(ctx context.Context, router http.Handler) error {
	cleared, err := s.store.ClearStaleLocks(s.staleLockCutoff())
	if err != nil {
		return fmt.Errorf("clear stale locks: %w", err)
	}
	if cleared > 0 {
		log.Printf("[Scheduler] Cleared %d stale lock(s)", cleared)
	}

	if err := s.store.Heartbeat(time.Now().Unix()); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}
	go s.heartbeatLoop(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.StatusPort),
		Handler: router,
	}
	go func() {
		log.Printf("[Scheduler] Status server listening on :%d", s.cfg.StatusPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Scheduler] Status server error: %v", err)
		}
	}()

	// One scan before the first tick so the registry is warm.
	s.triggerScan(ctx)

	log.Printf("[Scheduler] Started: buy every %s, reward every %s, scan every %d min",
		s.cfg.BuyInterval(), s.cfg.RewardInterval(), scanEveryMinutes)

	s.tickLoop(ctx)

	// Shutdown path.
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Scheduler] Status server shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.scanWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(scanDrainTimeout):
		log.Printf("[Scheduler] Scan still running after %s, abandoning", scanDrainTimeout)
	}

	log.Printf("[Scheduler] Stopped")
	return nil
}

// tickLoop aligns to minute boundaries and evaluates the triggers once per
// minute until ctx is cancelled.
func (s *Scheduler) tickLoop(ctx context.Context) {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}

		tick := time.Now()
		if s.isShuttingDown() {
			return
		}

		if shouldTrigger(s.cfg.BuyIntervalSec, tick) {
			s.runBuy(ctx)
		}
		if shouldTrigger(s.cfg.RewardIntervalSec, tick) {
			s.runReward(ctx)
		}
		if tick.Minute()%scanEveryMinutes == 0 {
			s.triggerScan(ctx)
		}
	}
}

// shouldTrigger maps a configured interval onto calendar-aligned minutes:
// sub-minute intervals fire every minute, sub-hour every N minutes,
// sub-day every N hours on the hour, anything longer daily at midnight.
func shouldTrigger(intervalSec int64, t time.Time) bool {
	switch {
	case intervalSec < 60:
		return true
	case intervalSec < 3600:
		step := int(intervalSec / 60)
		return t.Minute()%step == 0
	case intervalSec < 86400:
		step := int(intervalSec / 3600)
		return t.Minute() == 0 && t.Hour()%step == 0
	default:
		return t.Hour() == 0 && t.Minute() == 0
	}
}

func (s *Scheduler) runBuy(ctx context.Context) {
	if !s.intervalElapsed(models.RoundTypeBuy, s.cfg.BuyIntervalSec) {
		return
	}

	lamports, err := s.chain.GetNativeBalance(ctx, s.treasury)
	if err != nil {
		log.Printf("[Scheduler] Buy pre-check failed: %v", err)
		return
	}
	if float64(lamports)/lamportsPerSol < s.cfg.MinSolReserve {
		log.Printf("[Scheduler] Buy skipped: balance %.6f SOL below reserve %.6f",
			float64(lamports)/lamportsPerSol, s.cfg.MinSolReserve)
		return
	}

	timeout := time.Duration(s.cfg.BuyJobTimeoutMs) * time.Millisecond
	outcome := s.engine.Execute(ctx, models.LockBuyJob, timeout, func(jobCtx context.Context) error {
		res, err := s.buy.Run(jobCtx)
		s.broadcastResult(res)
		return err
	})
	log.Printf("[Scheduler] Buy tick: %s", describeOutcome(outcome))
}

func (s *Scheduler) runReward(ctx context.Context) {
	if !s.intervalElapsed(models.RoundTypeReward, s.cfg.RewardIntervalSec) {
		return
	}

	balance, err := s.chain.GetTokenBalance(ctx, s.treasury, s.cfg.TokenMint)
	if err != nil {
		log.Printf("[Scheduler] Reward pre-check failed: %v", err)
		return
	}
	if balance.Cmp(s.minRewardRaw) < 0 {
		log.Printf("[Scheduler] Reward skipped: treasury token balance %s below minimum %s",
			balance.String(), s.minRewardRaw.String())
		return
	}

	timeout := time.Duration(s.cfg.RewardJobTimeoutMs) * time.Millisecond
	outcome := s.engine.Execute(ctx, models.LockRewardJob, timeout, func(jobCtx context.Context) error {
		res, err := s.reward.Run(jobCtx)
		s.broadcastResult(res)
		return err
	})
	log.Printf("[Scheduler] Reward tick: %s", describeOutcome(outcome))
}

// intervalElapsed is the restart guard: if the newest round of the type is
// younger than the configured interval, the trigger skips before the lock
// is even considered.
func (s *Scheduler) intervalElapsed(roundType string, intervalSec int64) bool {
	round, err := s.store.LatestRound(roundType)
	if errors.Is(err, db.ErrNotFound) {
		return true
	}
	if err != nil {
		log.Printf("[Scheduler] Timing guard failed for %s: %v", roundType, err)
		return false
	}
	age := time.Now().Unix() - round.Ts
	if age < intervalSec {
		log.Printf("[Scheduler] %s skipped: last round %ds ago, interval %ds", roundType, age, intervalSec)
		return false
	}
	return true
}

func (s *Scheduler) triggerScan(ctx context.Context) {
	s.mu.Lock()
	if s.scanRunning || s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.scanRunning = true
	s.mu.Unlock()

	s.scanWG.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			s.scanRunning = false
			s.mu.Unlock()
			s.scanWG.Done()
		}()
		if err := s.scanner.Incremental(ctx, s.cfg.ScanSignatureLimit); err != nil {
			log.Printf("[Scheduler] Scan failed: %v", err)
		}
	}()
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.Heartbeat(time.Now().Unix()); err != nil {
				log.Printf("[Scheduler] Heartbeat write failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) broadcastResult(res *jobs.Result) {
	if s.hub != nil && res != nil && res.Round != nil {
		s.hub.BroadcastRound(res.Round)
	}
}

func (s *Scheduler) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// staleLockCutoff is twice the longer of the two job intervals: any lock
// older than that survives only a crash and is safe to clear at startup.
func (s *Scheduler) staleLockCutoff() time.Duration {
	longest := s.cfg.BuyInterval()
	if s.cfg.RewardInterval() > longest {
		longest = s.cfg.RewardInterval()
	}
	return 2 * longest
}

func describeOutcome(o engine.Outcome) string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s (%s)", o.Status.String(), o.Reason)
}
