package db

import (
	"encoding/json"
	"fmt"

	"github.com/rawblock/flywheel-engine/pkg/models"
)

// InsertRound appends an audit record. Rounds are never mutated afterwards.
func (s *Store) InsertRound(r *models.Round) error {
	txs, err := json.Marshal(r.Txs)
	if err != nil {
		return fmt.Errorf("%w: marshal txs: %v", ErrUnavailable, err)
	}
	meta, err := json.Marshal(r.Meta)
	if err != nil {
		return fmt.Errorf("%w: marshal meta: %v", ErrUnavailable, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO rounds (id, round_type, ts, txs, meta) VALUES (?, ?, ?, ?, ?);
	`, r.ID, r.Type, r.Ts, string(txs), string(meta))
	return mapErr(err)
}

// LatestRound returns the most recent round of the given type, or
// ErrNotFound when none has run yet.
func (s *Store) LatestRound(roundType string) (*models.Round, error) {
	row := s.db.QueryRow(`
		SELECT id, round_type, ts, txs, meta FROM rounds
		WHERE round_type = ? ORDER BY ts DESC, id DESC LIMIT 1;
	`, roundType)

	var (
		r        models.Round
		txsJSON  string
		metaJSON string
	)
	if err := row.Scan(&r.ID, &r.Type, &r.Ts, &txsJSON, &metaJSON); err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal([]byte(txsJSON), &r.Txs); err != nil {
		return nil, fmt.Errorf("%w: unmarshal txs: %v", ErrCorrupt, err)
	}
	if r.Txs == nil {
		r.Txs = []string{}
	}
	if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
		return nil, fmt.Errorf("%w: unmarshal meta: %v", ErrCorrupt, err)
	}
	return &r, nil
}

// RecentRounds lists up to limit rounds of a type, newest first.
func (s *Store) RecentRounds(roundType string, limit int) ([]models.Round, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, round_type, ts, txs, meta FROM rounds
		WHERE round_type = ? ORDER BY ts DESC, id DESC LIMIT ?;
	`, roundType, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]models.Round, 0, limit)
	for rows.Next() {
		var (
			r        models.Round
			txsJSON  string
			metaJSON string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Ts, &txsJSON, &metaJSON); err != nil {
			return nil, mapErr(err)
		}
		if err := json.Unmarshal([]byte(txsJSON), &r.Txs); err != nil {
			return nil, fmt.Errorf("%w: unmarshal txs: %v", ErrCorrupt, err)
		}
		if r.Txs == nil {
			r.Txs = []string{}
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
			return nil, fmt.Errorf("%w: unmarshal meta: %v", ErrCorrupt, err)
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}
