package db

import (
	"errors"
	"time"
)

// AcquireLock inserts the lock row. The primary key on lock_type makes
// acquisition atomic: a conflict means some process already holds it, which
// is reported as (false, nil) so callers can tell contention apart from a
// transport failure.
func (s *Store) AcquireLock(lockType string, ownerPid int) (bool, error) {
	_, err := s.db.Exec(`
		INSERT INTO execution_locks (lock_type, acquired_ts, owner_pid) VALUES (?, ?, ?);
	`, lockType, time.Now().Unix(), ownerPid)
	if err != nil {
		mapped := mapErr(err)
		if errors.Is(mapped, ErrConflict) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// ReleaseLock deletes the lock row. Idempotent; releasing a lock that is not
// held is not an error.
func (s *Store) ReleaseLock(lockType string) error {
	_, err := s.db.Exec(`DELETE FROM execution_locks WHERE lock_type = ?`, lockType)
	return mapErr(err)
}

// IsLockHeld reports whether a lock row exists.
func (s *Store) IsLockHeld(lockType string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM execution_locks WHERE lock_type = ?`, lockType).Scan(&n)
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

// ClearStaleLocks removes locks older than maxAge. Called once at startup so
// a crashed previous run cannot wedge the jobs forever.
func (s *Store) ClearStaleLocks(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.Exec(`DELETE FROM execution_locks WHERE acquired_ts < ?`, cutoff)
	if err != nil {
		return 0, mapErr(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
