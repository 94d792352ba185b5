package store

import (
	"context"
	"database/sql"
	"errors"
)

// HasContentHash reports whether a file with this exact content hash has
// already been attempted, the Collector's dedup check (spec §4.3:
// "deduplicate by content hash").
func (s *Store) HasContentHash(ctx context.Context, contentHash string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM collector_attempts WHERE content_hash = ?`, contentHash)
	return n > 0, err
}

// RecordAttempt upserts the per-file soft-fail ledger row. Re-attempting an
// already-recorded hash (a restart re-scanning the input directory) simply
// refreshes the outcome rather than erroring.
func (s *Store) RecordAttempt(ctx context.Context, a *CollectorAttempt) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO collector_attempts (content_hash, file_path, status, cause, attempted_at)
			VALUES (:content_hash, :file_path, :status, :cause, :attempted_at)
			ON CONFLICT(content_hash) DO UPDATE SET
				file_path = excluded.file_path,
				status = excluded.status,
				cause = excluded.cause,
				attempted_at = excluded.attempted_at`,
			a)
		return err
	})
}

// InsertDocumentRecord writes a Collector-parsed invoice/receipt row. A
// duplicate content_hash is treated as already-seen and ignored rather than
// surfaced as an error, matching the idempotent-dedup contract spec §4.3
// asks for at the file level.
func (s *Store) InsertDocumentRecord(ctx context.Context, d *DocumentRecord) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO document_records
				(trace_id, content_hash, source, vendor, amount_micros, occurred_at,
				 raw_path, group_id, tenant_id, status, fail_cause, inserted_at, updated_at)
			VALUES
				(:trace_id, :content_hash, :source, :vendor, :amount_micros, :occurred_at,
				 :raw_path, :group_id, :tenant_id, :status, :fail_cause, :inserted_at, :updated_at)`,
			d)
		if err != nil && isUniqueViolation(err) {
			return nil
		}
		return err
	})
}

// InsertPendingEntry writes a Collector-parsed bank/payment shadow row.
// Duplicate trace_id is likewise treated as already-seen.
func (s *Store) InsertPendingEntry(ctx context.Context, p *PendingEntry) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO pending_entries
				(trace_id, source, counterparty, amount_micros, occurred_at,
				 description, group_id, tenant_id, status, inserted_at, updated_at)
			VALUES
				(:trace_id, :source, :counterparty, :amount_micros, :occurred_at,
				 :description, :group_id, :tenant_id, :status, :inserted_at, :updated_at)`,
			p)
		if err != nil && isUniqueViolation(err) {
			return nil
		}
		return err
	})
}

// ListPendingDocuments returns PENDING document_records, oldest first, the
// source set the AccountingAgent pipeline consumes.
func (s *Store) ListPendingDocuments(ctx context.Context, limit int) ([]DocumentRecord, error) {
	var rows []DocumentRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM document_records
		WHERE status = 'PENDING'
		ORDER BY id ASC LIMIT ?`, limit)
	return rows, err
}

// MarkDocumentStatus transitions a document_records row out of PENDING.
func (s *Store) MarkDocumentStatus(ctx context.Context, id int64, status string, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE document_records SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id)
		return err
	})
}

// GetDocumentByHash looks up a previously written document record by its
// full-file content hash, used by tests and operator tooling to confirm a
// re-scan did not double-write.
func (s *Store) GetDocumentByHash(ctx context.Context, contentHash string) (*DocumentRecord, error) {
	var d DocumentRecord
	err := s.db.GetContext(ctx, &d, `SELECT * FROM document_records WHERE content_hash = ?`, contentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
