package models

import "math/big"

// Holder is the durable registry row for a wallet that has ever touched the
// configured mint. Wallets are created on first sighting and never deleted.
type Holder struct {
	Wallet string `json:"wallet"`

	// FirstSeenTs is the oldest known ledger activity (unix seconds).
	// Immutable once set.
	FirstSeenTs *int64 `json:"firstSeenTs"`
	LastSeenTs  int64  `json:"lastSeenTs"`

	LastBalanceRaw     *big.Int `json:"lastBalanceRaw"`
	LastBalanceCheckTs int64    `json:"lastBalanceCheckTs"`
	LastDecreaseTs     *int64   `json:"lastDecreaseTs"`

	// ContinuityStartTs marks the start of the current uninterrupted holding
	// window. Reset to the check time whenever a balance decrease is seen.
	ContinuityStartTs int64   `json:"continuityStartTs"`
	StreakRounds      int     `json:"streakRounds"`
	TwbScore          float64 `json:"twbScore"`

	// CumulativeBuySol counts only high-confidence detected spend; the low
	// confidence bucket is informational and never feeds eligibility.
	CumulativeBuySol              float64 `json:"cumulativeBuySol"`
	CumulativeBuySolLowConfidence float64 `json:"cumulativeBuySolLowConfidence"`

	IsBlacklisted bool `json:"isBlacklisted"`
}

// BalanceRawOrZero returns the last observed balance, treating an unknown
// balance as zero.
func (h *Holder) BalanceRawOrZero() *big.Int {
	if h.LastBalanceRaw == nil {
		return new(big.Int)
	}
	return h.LastBalanceRaw
}
