// Package config reads and validates the process-wide configuration from
// environment variables. All values are read once at startup; unknown keys
// are ignored.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the typed, validated process configuration.
type Config struct {
	// Chain access
	RPCURL          string
	IndexerBaseURL  string
	IndexerAPIKey   string
	SwapAPIBaseURL  string
	TokenMint       string
	TreasuryKeyPath string
	TreasuryAddress string
	DryRun          bool

	// Cadences (seconds)
	BuyIntervalSec    int64
	RewardIntervalSec int64

	// Eligibility
	MinWalletAgeDays    float64
	MinContinuitySec    int64
	MinCumulativeBuySol float64
	WinnersPerRound     int

	// Buy sizing (SOL)
	FeeReserveSol        float64
	MinBuySol            float64
	MaxBuyPerIntervalSol float64
	SlippageBps          int

	// Reward sizing
	RewardPercentBps    int64
	MaxRewardPercentBps int64
	MaxSendsPerTx       int

	// Scanning
	BootstrapSignatureLimit int
	ScanSignatureLimit      int

	// Status server
	StatusPort    int
	AllowedOrigin string

	// Execution guards
	BuyJobTimeoutMs          int
	RewardJobTimeoutMs       int
	MinSolReserve            float64
	MinRewardTokenBalanceRaw string
	MaxRPCErrorsBeforePause  int

	// Filesystem
	DataDir   string
	PublicDir string
}

// Load reads the configuration from the environment. It does not validate;
// call Validate before using the result.
func Load() *Config {
	return &Config{
		RPCURL:          getEnvOrDefault("RPC_URL", "https://api.mainnet-beta.solana.com"),
		IndexerBaseURL:  getEnvOrDefault("INDEXER_BASE_URL", "https://api.helius.xyz"),
		IndexerAPIKey:   os.Getenv("INDEXER_API_KEY"),
		SwapAPIBaseURL:  getEnvOrDefault("SWAP_API_BASE_URL", "https://quote-api.jup.ag/v6"),
		TokenMint:       os.Getenv("TOKEN_MINT"),
		TreasuryKeyPath: os.Getenv("TREASURY_KEY_PATH"),
		TreasuryAddress: os.Getenv("TREASURY_ADDRESS"),
		DryRun:          envBool("DRY_RUN", true),

		BuyIntervalSec:    envInt64("BUY_INTERVAL_SECONDS", 3600),
		RewardIntervalSec: envInt64("REWARD_INTERVAL_SECONDS", 7200),

		MinWalletAgeDays:    envFloat("MIN_WALLET_AGE_DAYS", 7),
		MinContinuitySec:    envInt64("MIN_CONTINUITY_SECONDS", 86400),
		MinCumulativeBuySol: envFloat("MIN_CUMULATIVE_BUY_SOL", 0.05),
		WinnersPerRound:     envInt("WINNERS_PER_ROUND", 10),

		FeeReserveSol:        envFloat("FEE_RESERVE_SOL", 0.03),
		MinBuySol:            envFloat("MIN_BUY_SOL", 0.01),
		MaxBuyPerIntervalSol: envFloat("MAX_BUY_PER_INTERVAL_SOL", 0.2),
		SlippageBps:          envInt("SLIPPAGE_BPS", 300),

		RewardPercentBps:    envInt64("REWARD_PERCENT_BPS", 500),
		MaxRewardPercentBps: envInt64("MAX_REWARD_PERCENT_BPS", 1000),
		MaxSendsPerTx:       envInt("MAX_SENDS_PER_TX", 8),

		BootstrapSignatureLimit: envInt("BOOTSTRAP_SIGNATURE_LIMIT", 5000),
		ScanSignatureLimit:      envInt("SCAN_SIGNATURE_LIMIT", 300),

		StatusPort:    envInt("STATUS_PORT", 5340),
		AllowedOrigin: getEnvOrDefault("ALLOWED_ORIGIN", "*"),

		BuyJobTimeoutMs:          envInt("BUY_JOB_TIMEOUT_MS", 120000),
		RewardJobTimeoutMs:       envInt("REWARD_JOB_TIMEOUT_MS", 600000),
		MinSolReserve:            envFloat("MIN_SOL_RESERVE", 0.05),
		MinRewardTokenBalanceRaw: getEnvOrDefault("MIN_REWARD_TOKEN_BALANCE_RAW", "1"),
		MaxRPCErrorsBeforePause:  envInt("MAX_RPC_ERRORS_BEFORE_PAUSE", 5),

		DataDir:   getEnvOrDefault("DATA_DIR", "./data"),
		PublicDir: getEnvOrDefault("PUBLIC_DIR", "./public"),
	}
}

// Validate checks the configuration for values the engine cannot run with.
// Any error here is fatal at startup.
func (c *Config) Validate() error {
	var problems []string

	if c.TokenMint == "" {
		problems = append(problems, "TOKEN_MINT is required")
	}
	if c.IndexerAPIKey == "" {
		problems = append(problems, "INDEXER_API_KEY is required")
	}
	if !c.DryRun && c.TreasuryKeyPath == "" {
		problems = append(problems, "TREASURY_KEY_PATH is required when DRY_RUN=false")
	}
	if c.TreasuryKeyPath == "" && c.TreasuryAddress == "" {
		problems = append(problems, "TREASURY_ADDRESS or TREASURY_KEY_PATH is required")
	}
	if c.BuyIntervalSec <= 0 {
		problems = append(problems, "BUY_INTERVAL_SECONDS must be positive")
	}
	if c.RewardIntervalSec <= 0 {
		problems = append(problems, "REWARD_INTERVAL_SECONDS must be positive")
	}
	if c.WinnersPerRound <= 0 {
		problems = append(problems, "WINNERS_PER_ROUND must be positive")
	}
	if c.MaxSendsPerTx <= 0 {
		problems = append(problems, "MAX_SENDS_PER_TX must be positive")
	}
	if c.RewardPercentBps < 0 || c.RewardPercentBps > 10000 {
		problems = append(problems, "REWARD_PERCENT_BPS must be in [0,10000]")
	}
	if c.MaxRewardPercentBps < 0 || c.MaxRewardPercentBps > 10000 {
		problems = append(problems, "MAX_REWARD_PERCENT_BPS must be in [0,10000]")
	}
	if c.SlippageBps < 0 {
		problems = append(problems, "SLIPPAGE_BPS must be non-negative")
	}
	if c.MinBuySol < 0 || c.FeeReserveSol < 0 || c.MaxBuyPerIntervalSol <= 0 {
		problems = append(problems, "buy sizing values must be non-negative and MAX_BUY_PER_INTERVAL_SOL positive")
	}
	if c.StatusPort <= 0 || c.StatusPort > 65535 {
		problems = append(problems, "STATUS_PORT must be a valid port")
	}
	if c.MaxRPCErrorsBeforePause <= 0 {
		problems = append(problems, "MAX_RPC_ERRORS_BEFORE_PAUSE must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// BuyInterval returns the buy cadence as a duration.
func (c *Config) BuyInterval() time.Duration {
	return time.Duration(c.BuyIntervalSec) * time.Second
}

// RewardInterval returns the reward cadence as a duration.
func (c *Config) RewardInterval() time.Duration {
	return time.Duration(c.RewardIntervalSec) * time.Second
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}
