package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/metrics"
	"github.com/nexledger/ledgerd/internal/resilience"
)

// ErrLocked is returned by LockEntry when the row is held by a live owner.
var ErrLocked = errors.New("store: entry locked by another owner")

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence and integrity layer. It wraps a *sql.DB with
// sqlx for struct scanning and serializes writers through a retrying busy
// wait (spec §4.2: "concurrent writers use a busy-wait with exponential
// backoff plus random jitter").
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sql.DB (see internal/platform/database) as a
// Store.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite3")}
}

// withRetry runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED using the store
// resilience preset, and records the outcome in StoreBusyRetries. Any other
// error is wrapped in backoff.Permanent so the underlying cenkalti/backoff
// loop stops on the first attempt instead of retrying a cause that will
// never resolve on its own (e.g. ErrDuplicateTrace).
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	attempts := 0
	err := resilience.Retry(ctx, resilience.StorePreset(), func() error {
		attempts++
		err := fn()
		if err != nil && isBusy(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})

	if attempts > 1 {
		outcome := "ok"
		if err != nil {
			outcome = "exhausted"
		}
		metrics.StoreBusyRetries.WithLabelValues(outcome).Inc()
	}
	return err
}

// isBusy reports whether err is SQLite's busy/locked error, the Transient
// case named in spec §7.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}

// AppendEntry appends a new ledger entry inside a transaction: it reads the
// current chain head, computes chain_hash, inserts the row, and updates the
// head pointer implicitly (the head is always "the most recently inserted
// row", queried fresh on the next call). It fails with ErrDuplicateTrace if
// trace_id already exists, after copying the existing row into e so the
// caller sees the prior id.
func (s *Store) AppendEntry(ctx context.Context, e *LedgerEntry) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if existing, ferr := findByTraceID(ctx, tx, e.TraceID); ferr == nil {
			*e = *existing
			return backoff.Permanent(apperrors.New(apperrors.KindIntegrity, e.TraceID, apperrors.ErrDuplicateTrace))
		} else if !errors.Is(ferr, ErrNotFound) {
			return ferr
		}

		head, err := chainHead(ctx, tx)
		if err != nil {
			return err
		}

		var prevHashVal string
		if head != nil {
			prevHashVal = *head
		}
		e.ChainHash = computeChainHash(prevHashVal, e.AmountMicros, e.Vendor, e.Category, e.TraceID, e.OccurredAt)
		if head != nil {
			e.PrevHash = head
		}

		const insert = `
			INSERT INTO ledger_entries
				(trace_id, amount_micros, vendor, category, occurred_at, group_id,
				 project_id, tenant_id, inference_log, matched_rule, prev_hash,
				 chain_hash, state, reverses_id, inserted_at, updated_at)
			VALUES
				(:trace_id, :amount_micros, :vendor, :category, :occurred_at, :group_id,
				 :project_id, :tenant_id, :inference_log, :matched_rule, :prev_hash,
				 :chain_hash, :state, :reverses_id, :inserted_at, :updated_at)`

		res, err := tx.NamedExecContext(ctx, insert, e)
		if err != nil {
			if isUniqueViolation(err) {
				return backoff.Permanent(apperrors.New(apperrors.KindIntegrity, e.TraceID, apperrors.ErrDuplicateTrace))
			}
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = id

		return tx.Commit()
	})
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func chainHead(ctx context.Context, tx *sqlx.Tx) (*string, error) {
	var head sql.NullString
	err := tx.GetContext(ctx, &head, `SELECT chain_hash FROM ledger_entries ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !head.Valid {
		return nil, nil
	}
	return &head.String, nil
}

func findByTraceID(ctx context.Context, tx *sqlx.Tx, traceID string) (*LedgerEntry, error) {
	var e LedgerEntry
	err := tx.GetContext(ctx, &e, `SELECT * FROM ledger_entries WHERE trace_id = ?`, traceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// LockEntry claims an advisory lock on a row for owner. It fails with
// ErrLocked if the row is held by a live owner (lock_expires_at in the
// future), or claims it if the current owner's lock has expired.
func (s *Store) LockEntry(ctx context.Context, id int64, owner string, lockExpiresAt int64, now int64) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var cur struct {
			LockOwner     sql.NullString `db:"lock_owner"`
			LockExpiresAt sql.NullInt64  `db:"lock_expires_at"`
		}
		err = tx.GetContext(ctx, &cur, `SELECT lock_owner, lock_expires_at FROM ledger_entries WHERE id = ?`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}

		if cur.LockOwner.Valid && cur.LockOwner.String != "" && cur.LockOwner.String != owner {
			if cur.LockExpiresAt.Valid && cur.LockExpiresAt.Int64 > now {
				return backoff.Permanent(ErrLocked)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_entries SET state = ?, lock_owner = ?, lock_expires_at = ?, updated_at = ? WHERE id = ?`,
			StateLocking, owner, lockExpiresAt, now, id)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// VerifyChain recomputes the hash chain over rows in (from, to] id order and
// returns the first ChainBreak found, if any. A nil break means the window
// is internally consistent.
func (s *Store) VerifyChain(ctx context.Context, from, to int64) (*ChainBreak, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, amount_micros, vendor, category, trace_id, occurred_at, prev_hash, chain_hash
		 FROM ledger_entries WHERE id > ? AND id <= ? ORDER BY id ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row struct {
			ID           int64          `db:"id"`
			AmountMicros int64          `db:"amount_micros"`
			Vendor       string         `db:"vendor"`
			Category     string         `db:"category"`
			TraceID      string         `db:"trace_id"`
			OccurredAt   int64          `db:"occurred_at"`
			PrevHash     sql.NullString `db:"prev_hash"`
			ChainHash    string         `db:"chain_hash"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}

		expected := computeChainHash(row.PrevHash.String, row.AmountMicros, row.Vendor, row.Category, row.TraceID, row.OccurredAt)
		if expected != row.ChainHash {
			metrics.ChainVerifications.WithLabelValues("break").Inc()
			return &ChainBreak{ID: row.ID, Expected: expected, Actual: row.ChainHash}, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.ChainVerifications.WithLabelValues("ok").Inc()
	return nil, nil
}

// MarkReverted flips id to REVERTED and appends a reversing entry whose
// payload mirrors the original with sign-flipped amount and a back
// reference (I4: reversal symmetry). It never physically deletes the
// original row.
func (s *Store) MarkReverted(ctx context.Context, id int64, reason string, now int64, newTraceID string) (*LedgerEntry, error) {
	var reversing LedgerEntry

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var original LedgerEntry
		if err := tx.GetContext(ctx, &original, `SELECT * FROM ledger_entries WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}

		head, err := chainHead(ctx, tx)
		if err != nil {
			return err
		}
		var prevHashVal string
		if head != nil {
			prevHashVal = *head
		}

		reversing = LedgerEntry{
			TraceID:      newTraceID,
			AmountMicros: -original.AmountMicros,
			Vendor:       original.Vendor,
			Category:     original.Category,
			OccurredAt:   now,
			GroupID:      original.GroupID,
			ProjectID:    original.ProjectID,
			TenantID:     original.TenantID,
			ReversesID:   &original.ID,
			State:        StatePosted,
			InsertedAt:   now,
			UpdatedAt:    now,
		}
		reversing.ChainHash = computeChainHash(prevHashVal, reversing.AmountMicros, reversing.Vendor, reversing.Category, reversing.TraceID, reversing.OccurredAt)
		if head != nil {
			reversing.PrevHash = head
		}

		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO ledger_entries
				(trace_id, amount_micros, vendor, category, occurred_at, group_id,
				 project_id, tenant_id, reverses_id, prev_hash, chain_hash, state,
				 inserted_at, updated_at)
			VALUES
				(:trace_id, :amount_micros, :vendor, :category, :occurred_at, :group_id,
				 :project_id, :tenant_id, :reverses_id, :prev_hash, :chain_hash, :state,
				 :inserted_at, :updated_at)`, &reversing)
		if err != nil {
			return err
		}
		reversingID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		reversing.ID = reversingID

		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_entries SET state = ?, reverted_by_id = ?, updated_at = ? WHERE id = ?`,
			StateReverted, reversingID, now, id)
		if err != nil {
			return err
		}

		_ = reason // recorded via inference_log by the caller before calling MarkReverted

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return &reversing, nil
}

// Heartbeat upserts a worker's heartbeat row by worker_name.
func (s *Store) Heartbeat(ctx context.Context, workerName string, pid int, state string, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO heartbeats (worker_name, pid, last_beat_at, state, restart_count, updated_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(worker_name) DO UPDATE SET
				pid = excluded.pid,
				last_beat_at = excluded.last_beat_at,
				state = excluded.state,
				updated_at = excluded.updated_at`,
			workerName, pid, now, state, now)
		return err
	})
}

// IncrementRestartCount bumps a worker's restart_count, used by the
// MasterDaemon's quarantine policy.
func (s *Store) IncrementRestartCount(ctx context.Context, workerName string, now int64) (int, error) {
	var count int
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx,
			`UPDATE heartbeats SET restart_count = restart_count + 1, updated_at = ? WHERE worker_name = ?`,
			now, workerName)
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &count, `SELECT restart_count FROM heartbeats WHERE worker_name = ?`, workerName); err != nil {
			return err
		}
		return tx.Commit()
	})
	return count, err
}

// GetEntry fetches a single ledger entry by id.
func (s *Store) GetEntry(ctx context.Context, id int64) (*LedgerEntry, error) {
	var e LedgerEntry
	err := s.db.GetContext(ctx, &e, `SELECT * FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// DB exposes the underlying *sqlx.DB for packages (snapshot, migrations)
// that need direct access.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }
