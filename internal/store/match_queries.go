package store

import (
	"context"
	"database/sql"
	"errors"
)

// ListPostedCandidates returns POSTED ledger rows whose amount magnitude is
// within bandMicros of amountMicrosAbs and whose occurred_at falls inside
// [windowStart, windowEnd] — the candidate pre-filter for one pending entry
// (spec §4.6: "amount equality within tolerance and occurred_at within a
// 7-day window"). The exact relative-tolerance check is re-applied by the
// caller; this is only the coarse, index-backed cross-join suppressor.
func (s *Store) ListPostedCandidates(ctx context.Context, amountMicrosAbs, bandMicros, windowStart, windowEnd int64) ([]LedgerEntry, error) {
	var rows []LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM ledger_entries
		WHERE state = ?
		  AND ABS(ABS(amount_micros) - ?) <= ?
		  AND occurred_at BETWEEN ? AND ?
		ORDER BY occurred_at ASC`,
		StatePosted, amountMicrosAbs, bandMicros, windowStart, windowEnd)
	return rows, err
}

// ListUnreconciledPending returns one page of UNRECONCILED pending entries,
// oldest first, for the MatchEngine's limit/offset batch loop.
func (s *Store) ListUnreconciledPending(ctx context.Context, limit, offset int) ([]PendingEntry, error) {
	var rows []PendingEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pending_entries
		WHERE status = 'UNRECONCILED'
		ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	return rows, err
}

// ListStalePending returns UNRECONCILED rows older than olderThan (epoch
// milliseconds), the proactive evidence hunter's source set (spec §4.6).
func (s *Store) ListStalePending(ctx context.Context, olderThan int64, limit int) ([]PendingEntry, error) {
	var rows []PendingEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pending_entries
		WHERE status = 'UNRECONCILED' AND occurred_at < ?
		ORDER BY occurred_at ASC LIMIT ?`, olderThan, limit)
	return rows, err
}

// MarkPendingStatus updates a pending entry's status and optional matched
// ledger id.
func (s *Store) MarkPendingStatus(ctx context.Context, id int64, status string, matchedLedgerID *int64, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE pending_entries SET status = ?, matched_ledger_id = ?, updated_at = ? WHERE id = ?`,
			status, matchedLedgerID, now, id)
		return err
	})
}

// InsertOutboxEvent enqueues a durable outbound event. InteractionHub is the
// spec's designated outbox writer (§4.7); MatchEngine uses the same table
// for EVIDENCE_REQUEST and CRITICAL chain-break alerts since both originate
// in the reconciliation and integrity-sampling loop, not in a user callback.
func (s *Store) InsertOutboxEvent(ctx context.Context, ev *OutboxEvent) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO outbox_events
				(event_id, kind, payload, status, attempts, next_attempt_at, created_at, updated_at)
			VALUES
				(:event_id, :kind, :payload, :status, :attempts, :next_attempt_at, :created_at, :updated_at)`,
			ev)
		return err
	})
}

// MaxLedgerID returns the highest ledger_entries id, letting the periodic
// integrity sampler advance a sliding verification window.
func (s *Store) MaxLedgerID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.db.GetContext(ctx, &id, `SELECT MAX(id) FROM ledger_entries`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}
