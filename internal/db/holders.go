package db

import (
	"database/sql"
	"math/big"

	"github.com/rawblock/flywheel-engine/pkg/models"
)

const holderCols = `wallet, first_seen_ts, last_seen_ts, last_balance_raw,
	last_balance_check_ts, last_decrease_ts, continuity_start_ts,
	streak_rounds, twb_score, cumulative_buy_sol,
	cumulative_buy_sol_low_confidence, is_blacklisted`

// EnsureHolder inserts the wallet on first sighting and advances last_seen_ts.
// The continuity window starts at the first sighting until a refresh says
// otherwise.
func (s *Store) EnsureHolder(wallet string, seenTs int64) error {
	_, err := s.db.Exec(`
		INSERT INTO holders (wallet, last_seen_ts, continuity_start_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE
		SET last_seen_ts = MAX(last_seen_ts, excluded.last_seen_ts);
	`, wallet, seenTs, seenTs)
	return mapErr(err)
}

// GetHolder returns the registry row for a wallet, or ErrNotFound.
func (s *Store) GetHolder(wallet string) (*models.Holder, error) {
	row := s.db.QueryRow(`SELECT `+holderCols+` FROM holders WHERE wallet = ?`, wallet)
	h, err := scanHolder(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return h, nil
}

// SetFirstSeen records the oldest known activity for a wallet. The value only
// ever moves toward the true minimum: an existing earlier timestamp wins.
func (s *Store) SetFirstSeen(wallet string, ts int64) error {
	_, err := s.db.Exec(`
		UPDATE holders SET first_seen_ts = ?
		WHERE wallet = ? AND (first_seen_ts IS NULL OR first_seen_ts > ?);
	`, ts, wallet, ts)
	return mapErr(err)
}

// AddBuy accumulates detected native spend. Only high-confidence detections
// count toward eligibility; the rest land in the low-confidence bucket.
func (s *Store) AddBuy(wallet string, solSpent float64, highConfidence bool, seenTs int64) error {
	col := "cumulative_buy_sol_low_confidence"
	if highConfidence {
		col = "cumulative_buy_sol"
	}
	_, err := s.db.Exec(`
		UPDATE holders
		SET `+col+` = `+col+` + ?, last_seen_ts = MAX(last_seen_ts, ?)
		WHERE wallet = ?;
	`, solSpent, seenTs, wallet)
	return mapErr(err)
}

// ApplyBalanceObservation records a fresh balance reading. A strict decrease
// resets the continuity window, streak and time-weighted score. Returns
// whether a decrease was observed.
func (s *Store) ApplyBalanceObservation(wallet string, raw *big.Int, checkTs int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevStr string
	if err := tx.QueryRow(`SELECT last_balance_raw FROM holders WHERE wallet = ?`, wallet).Scan(&prevStr); err != nil {
		return false, mapErr(err)
	}
	prev, ok := new(big.Int).SetString(prevStr, 10)
	if !ok {
		prev = new(big.Int)
	}

	decreased := raw.Cmp(prev) < 0
	if decreased {
		_, err = tx.Exec(`
			UPDATE holders
			SET last_balance_raw = ?, last_balance_check_ts = ?, last_seen_ts = ?,
			    last_decrease_ts = ?, continuity_start_ts = ?,
			    streak_rounds = 0, twb_score = 0
			WHERE wallet = ?;
		`, raw.String(), checkTs, checkTs, checkTs, checkTs, wallet)
	} else {
		_, err = tx.Exec(`
			UPDATE holders
			SET last_balance_raw = ?, last_balance_check_ts = ?, last_seen_ts = ?
			WHERE wallet = ?;
		`, raw.String(), checkTs, checkTs, wallet)
	}
	if err != nil {
		return false, mapErr(err)
	}
	return decreased, mapErr(tx.Commit())
}

// Wallets returns every known holder address.
func (s *Store) Wallets() ([]string, error) {
	rows, err := s.db.Query(`SELECT wallet FROM holders ORDER BY wallet`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, w)
	}
	return out, mapErr(rows.Err())
}

// WalletsMissingAge lists wallets whose oldest activity is still unknown.
func (s *Store) WalletsMissingAge(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT wallet FROM holders WHERE first_seen_ts IS NULL LIMIT ?`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, w)
	}
	return out, mapErr(rows.Err())
}

// EligibleHolders evaluates the reward-eligibility predicate directly in SQL:
// not blacklisted, old enough, held continuously long enough, enough
// high-confidence buys, positive balance.
func (s *Store) EligibleHolders(now int64, minAgeSec, minContinuitySec int64, minBuySol float64) ([]models.Holder, error) {
	rows, err := s.db.Query(`
		SELECT `+holderCols+` FROM holders
		WHERE is_blacklisted = 0
		  AND cumulative_buy_sol >= ?
		  AND first_seen_ts IS NOT NULL AND first_seen_ts <= ?
		  AND continuity_start_ts <= ?
		  AND CAST(last_balance_raw AS REAL) > 0
		ORDER BY wallet;
	`, minBuySol, now-minAgeSec, now-minContinuitySec)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Holder
	for rows.Next() {
		h, err := scanHolder(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *h)
	}
	return out, mapErr(rows.Err())
}

// StreakBump is the post-round state advance applied to every eligible
// holder, winner or not.
type StreakBump struct {
	Wallet   string
	TwbDelta float64
}

// BumpStreaks applies streak_rounds += 1 and twb_score += delta atomically
// for a whole round.
func (s *Store) BumpStreaks(bumps []StreakBump) error {
	tx, err := s.db.Begin()
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		UPDATE holders SET streak_rounds = streak_rounds + 1, twb_score = twb_score + ?
		WHERE wallet = ?;
	`)
	if err != nil {
		return mapErr(err)
	}
	defer stmt.Close()

	for _, b := range bumps {
		if _, err := stmt.Exec(b.TwbDelta, b.Wallet); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

// SetBlacklisted flips the anti-sybil exclusion flag for a wallet.
func (s *Store) SetBlacklisted(wallet string, blacklisted bool) error {
	v := 0
	if blacklisted {
		v = 1
	}
	_, err := s.db.Exec(`UPDATE holders SET is_blacklisted = ? WHERE wallet = ?`, v, wallet)
	return mapErr(err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolder(r rowScanner) (*models.Holder, error) {
	var (
		h          models.Holder
		firstSeen  sql.NullInt64
		decreaseTs sql.NullInt64
		balance    string
		black      int
	)
	err := r.Scan(&h.Wallet, &firstSeen, &h.LastSeenTs, &balance,
		&h.LastBalanceCheckTs, &decreaseTs, &h.ContinuityStartTs,
		&h.StreakRounds, &h.TwbScore, &h.CumulativeBuySol,
		&h.CumulativeBuySolLowConfidence, &black)
	if err != nil {
		return nil, err
	}
	if firstSeen.Valid {
		v := firstSeen.Int64
		h.FirstSeenTs = &v
	}
	if decreaseTs.Valid {
		v := decreaseTs.Int64
		h.LastDecreaseTs = &v
	}
	if b, ok := new(big.Int).SetString(balance, 10); ok {
		h.LastBalanceRaw = b
	} else {
		h.LastBalanceRaw = new(big.Int)
	}
	h.IsBlacklisted = black != 0
	return &h, nil
}
