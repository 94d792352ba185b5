package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetHeartbeat fetches a single worker's heartbeat row.
func (s *Store) GetHeartbeat(ctx context.Context, workerName string) (*Heartbeat, error) {
	var hb Heartbeat
	err := s.db.GetContext(ctx, &hb, `SELECT * FROM heartbeats WHERE worker_name = ?`, workerName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &hb, nil
}

// ListHeartbeats fetches every worker's heartbeat row, for the MasterDaemon's
// per-cycle health sweep.
func (s *Store) ListHeartbeats(ctx context.Context) ([]Heartbeat, error) {
	var hbs []Heartbeat
	err := s.db.SelectContext(ctx, &hbs, `SELECT * FROM heartbeats ORDER BY worker_name`)
	return hbs, err
}

// SetHeartbeatState flips a worker's heartbeat state (e.g. STUCK, QUARANTINED)
// without touching last_beat_at, and optionally records a panic snapshot.
func (s *Store) SetHeartbeatState(ctx context.Context, workerName, state string, panicSnapshot *string, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE heartbeats SET state = ?, panic_snapshot = COALESCE(?, panic_snapshot), updated_at = ? WHERE worker_name = ?`,
			state, panicSnapshot, now, workerName)
		return err
	})
}

// ReleaseOrphanedLocks resets rows stuck in LOCKING whose advisory lock
// expired before staleBefore back to PROPOSED, clearing the lock owner
// and expiry, and returns how many rows it reclaimed (spec §4.1's "clean
// orphaned entry locks" maintenance task).
func (s *Store) ReleaseOrphanedLocks(ctx context.Context, staleBefore, now int64) (int, error) {
	var n int
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE ledger_entries
			 SET state = ?, lock_owner = NULL, lock_expires_at = NULL, updated_at = ?
			 WHERE state = ? AND lock_expires_at IS NOT NULL AND lock_expires_at < ?`,
			StateProposed, now, StateLocking, staleBefore)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		n = int(affected)
		return nil
	})
	return n, err
}

// Compact runs SQLite's statistics-gathering optimizer pass, the
// MasterDaemon's daily "compact statistics" maintenance task.
func (s *Store) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA optimize`)
	return err
}
