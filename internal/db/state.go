package db

import (
	"errors"
	"fmt"
	"strconv"
)

// bot_state keys.
const (
	stateHeartbeat      = "heartbeat_ts"
	stateSafeMode       = "safe_mode"
	stateSafeModeReason = "safe_mode_reason"
	stateRPCErrors      = "consecutive_rpc_errors"
	stateCursorSig      = "scan_cursor_signature"
)

func (s *Store) setState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value;
	`, key, value)
	return mapErr(err)
}

func (s *Store) getState(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", mapErr(err)
	}
	return v, nil
}

func (s *Store) deleteState(key string) error {
	_, err := s.db.Exec(`DELETE FROM bot_state WHERE key = ?`, key)
	return mapErr(err)
}

// Heartbeat writes the liveness timestamp the status projector reads.
func (s *Store) Heartbeat(ts int64) error {
	return s.setState(stateHeartbeat, strconv.FormatInt(ts, 10))
}

// HeartbeatTs returns the last heartbeat, or ErrNotFound before the first.
func (s *Store) HeartbeatTs() (int64, error) {
	v, err := s.getState(stateHeartbeat)
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad heartbeat %q", ErrCorrupt, v)
	}
	return ts, nil
}

// EnterSafeMode latches the safety flag. Idempotent; only ExitSafeMode
// clears it.
func (s *Store) EnterSafeMode(reason string) error {
	if err := s.setState(stateSafeMode, "1"); err != nil {
		return err
	}
	return s.setState(stateSafeModeReason, reason)
}

// ExitSafeMode is the single operator-mediated write path out of safe mode.
func (s *Store) ExitSafeMode() error {
	if err := s.deleteState(stateSafeMode); err != nil {
		return err
	}
	return s.deleteState(stateSafeModeReason)
}

// IsSafeMode reports whether the latch is set. Absence of the key means off.
func (s *Store) IsSafeMode() (bool, error) {
	_, err := s.getState(stateSafeMode)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SafeModeReason returns the latch reason, or "" when safe mode is off.
func (s *Store) SafeModeReason() (string, error) {
	v, err := s.getState(stateSafeModeReason)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// RPCErrorCount returns the consecutive transient-error counter.
func (s *Store) RPCErrorCount() (int, error) {
	v, err := s.getState(stateRPCErrors)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: bad rpc error count %q", ErrCorrupt, v)
	}
	return n, nil
}

func (s *Store) SetRPCErrorCount(n int) error {
	return s.setState(stateRPCErrors, strconv.Itoa(n))
}

func (s *Store) ResetRPCErrorCount() error {
	return s.deleteState(stateRPCErrors)
}

// ScanCursor returns the last processed signature and its timestamp, or
// ErrNotFound before the first scan.
func (s *Store) ScanCursor() (string, int64, error) {
	var (
		sig string
		ts  int64
	)
	err := s.db.QueryRow(`
		SELECT last_processed_signature, last_processed_timestamp FROM scan_state WHERE id = 1;
	`).Scan(&sig, &ts)
	if err != nil {
		return "", 0, mapErr(err)
	}
	return sig, ts, nil
}

// SetScanCursor advances the cursor to the newest signature seen in a batch.
func (s *Store) SetScanCursor(signature string, ts int64) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_state (id, last_processed_signature, last_processed_timestamp)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET last_processed_signature = excluded.last_processed_signature,
		    last_processed_timestamp = excluded.last_processed_timestamp;
	`, signature, ts)
	return mapErr(err)
}
