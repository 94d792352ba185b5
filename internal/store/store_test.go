package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/platform/database"
	"github.com/nexledger/ledgerd/internal/platform/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	opts := database.DefaultOptions(filepath.Join(dir, "ledger.db"))

	db, err := database.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(context.Background(), db))

	return New(db)
}

func TestAppendEntrySetsGenesisChainHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{
		TraceID:      "trc-1",
		AmountMicros: 1_500_000,
		Vendor:       "Acme Corp",
		Category:     "6602",
		OccurredAt:   1000,
		State:        StatePosted,
		InsertedAt:   1000,
		UpdatedAt:    1000,
	}
	require.NoError(t, s.AppendEntry(ctx, e))
	require.NotZero(t, e.ID)
	require.Nil(t, e.PrevHash)
	require.NotEmpty(t, e.ChainHash)
}

func TestAppendEntryChainsToPreviousHead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &LedgerEntry{TraceID: "trc-1", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, first))

	second := &LedgerEntry{TraceID: "trc-2", AmountMicros: 200, Vendor: "B", Category: "6602", OccurredAt: 2000, State: StatePosted, InsertedAt: 2000, UpdatedAt: 2000}
	require.NoError(t, s.AppendEntry(ctx, second))

	require.NotNil(t, second.PrevHash)
	require.Equal(t, first.ChainHash, *second.PrevHash)
}

func TestAppendEntryRejectsDuplicateTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{TraceID: "trc-dup", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, e))
	firstID := e.ID

	dup := &LedgerEntry{TraceID: "trc-dup", AmountMicros: 999, Vendor: "Z", Category: "6602", OccurredAt: 5000, State: StatePosted, InsertedAt: 5000, UpdatedAt: 5000}
	err := s.AppendEntry(ctx, dup)
	require.Error(t, err)
	require.ErrorIs(t, err, apperrors.ErrDuplicateTrace)

	// caller sees the prior id surfaced idempotently (I3)
	require.Equal(t, firstID, dup.ID)
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{TraceID: "trc-1", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, e))

	brk, err := s.VerifyChain(ctx, 0, e.ID)
	require.NoError(t, err)
	require.Nil(t, brk)

	_, err = s.db.ExecContext(ctx, `UPDATE ledger_entries SET amount_micros = 999999 WHERE id = ?`, e.ID)
	require.NoError(t, err)

	brk, err = s.VerifyChain(ctx, 0, e.ID)
	require.NoError(t, err)
	require.NotNil(t, brk)
	require.Equal(t, e.ID, brk.ID)
}

func TestMarkRevertedAppendsReversingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{TraceID: "trc-1", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, e))

	reversing, err := s.MarkReverted(ctx, e.ID, "duplicate posting", 2000, "trc-1-rev")
	require.NoError(t, err)
	require.Equal(t, -e.AmountMicros, reversing.AmountMicros)
	require.Equal(t, e.ID, *reversing.ReversesID)

	original, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StateReverted, original.State)
	require.Equal(t, reversing.ID, *original.RevertedByID)
}

func TestLockEntryRejectsWhenHeldByLiveOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{TraceID: "trc-1", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, e))

	require.NoError(t, s.LockEntry(ctx, e.ID, "auditor-1", 100000, 1000))

	err := s.LockEntry(ctx, e.ID, "auditor-2", 200000, 1500)
	require.ErrorIs(t, err, ErrLocked)
}

func TestLockEntryClaimsAfterExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &LedgerEntry{TraceID: "trc-1", AmountMicros: 100, Vendor: "A", Category: "6602", OccurredAt: 1000, State: StatePosted, InsertedAt: 1000, UpdatedAt: 1000}
	require.NoError(t, s.AppendEntry(ctx, e))

	require.NoError(t, s.LockEntry(ctx, e.ID, "auditor-1", 1100, 1000))
	require.NoError(t, s.LockEntry(ctx, e.ID, "auditor-2", 5000, 4000))
}

func TestHeartbeatUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Heartbeat(ctx, "collector", 42, "ALIVE", 1000))
	require.NoError(t, s.Heartbeat(ctx, "collector", 42, "ALIVE", 2000))

	var beatCount int
	require.NoError(t, s.db.GetContext(ctx, &beatCount, `SELECT COUNT(*) FROM heartbeats WHERE worker_name = ?`, "collector"))
	require.Equal(t, 1, beatCount)
}

