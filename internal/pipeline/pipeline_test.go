package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/accounting"
	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/audit"
	"github.com/nexledger/ledgerd/internal/interaction"
	"github.com/nexledger/ledgerd/internal/knowledge"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

type fakePipelineStore struct {
	mu          sync.Mutex
	pending     []store.DocumentRecord
	statuses    map[int64]string
	history     map[string][]store.LedgerEntry
	entries     []*store.LedgerEntry
	entryStates map[int64]store.EntryState
	appendErr   error
	nextID      int64
}

func newFakePipelineStore(docs []store.DocumentRecord) *fakePipelineStore {
	return &fakePipelineStore{
		pending:     docs,
		statuses:    map[int64]string{},
		history:     map[string][]store.LedgerEntry{},
		entryStates: map[int64]store.EntryState{},
	}
}

func (f *fakePipelineStore) ListPendingDocuments(_ context.Context, limit int) ([]store.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.pending
	f.pending = nil
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakePipelineStore) MarkDocumentStatus(_ context.Context, id int64, status string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakePipelineStore) ListRecentEntriesByVendor(_ context.Context, vendor string, _ int) ([]store.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[vendor], nil
}

func (f *fakePipelineStore) AppendEntry(_ context.Context, e *store.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.nextID++
	e.ID = f.nextID
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakePipelineStore) UpdateEntryState(_ context.Context, id int64, newState store.EntryState, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryStates[id] = newState
	return nil
}

func (f *fakePipelineStore) Heartbeat(_ context.Context, _ string, _ int, _ string, _ int64) error {
	return nil
}

type fakeLearner struct {
	hits    []string
	rejects []string
}

func (l *fakeLearner) RecordHit(_ context.Context, ruleID string, _ int64) error {
	l.hits = append(l.hits, ruleID)
	return nil
}

func (l *fakeLearner) RecordReject(_ context.Context, ruleID string, _ int64) error {
	l.rejects = append(l.rejects, ruleID)
	return nil
}

type fakeCards struct {
	created []string
}

func (c *fakeCards) CreateCard(_ context.Context, kind string, _ interface{}, _ string, _ time.Duration, _ string, _ int64) (string, string, error) {
	c.created = append(c.created, kind)
	return "card-1", "token-1", nil
}

func newTestAuditor() *audit.Auditor {
	redLines := audit.NewRedLineChecker(nil, 1_000_000)
	judges := []audit.Judge{audit.NewComplianceJudge(), audit.NewFinanceJudge(10000), audit.NewTaxJudge(nil)}
	return audit.NewAuditor(redLines, judges, audit.StrategyBalanced, 0.6, 0.7, 0.5)
}

func newTestRouter(bridge *knowledge.Bridge) *accounting.Router {
	daily := accounting.NewTokenBudget(1000, 86400)
	monthly := accounting.NewTokenBudget(10000, 2592000)
	return accounting.NewRouter(accounting.RouterConfig{
		L2Enabled:        false,
		L1ConfidenceBand: 0.9,
		CacheSize:        16,
		CacheTTL:         time.Minute,
	}, bridge, nil, daily, monthly, nil)
}

func TestProcessDocumentAppliesApprovedOutcome(t *testing.T) {
	doc := store.DocumentRecord{ID: 1, TraceID: "t1", Vendor: "office-depot", AmountMicros: 5_000_000, OccurredAt: 1700000000000, Status: "PENDING"}
	st := newFakePipelineStore([]store.DocumentRecord{doc})
	learner := &fakeLearner{}
	cards := &fakeCards{}

	bridge := knowledge.New()
	bridge.Reload([]store.Rule{{
		RuleID: "r1", Version: 1, KeywordPattern: "office-depot", ProposedCategory: "OFFICE_SUPPLIES",
		Priority: 1, AuditLevel: string(knowledge.LevelStable),
	}})

	p := New(st, newTestRouter(bridge), newTestAuditor(), learner, cards, logger.NewDefault("test"), "pipeline", 1, func() int64 { return 1700000000000 }, time.Hour)

	p.drainOnce(context.Background())

	require.Len(t, st.entries, 1)
	require.Equal(t, "OFFICE_SUPPLIES", st.entries[0].Category)
	require.Equal(t, "CLASSIFIED", st.statuses[1])
}

func TestProcessDocumentOpensCardOnNeedsReview(t *testing.T) {
	doc := store.DocumentRecord{ID: 2, TraceID: "t2", Vendor: "unknown-vendor", AmountMicros: 50_000_000, OccurredAt: 1700000000000, Status: "PENDING"}
	st := newFakePipelineStore([]store.DocumentRecord{doc})
	learner := &fakeLearner{}
	cards := &fakeCards{}

	bridge := knowledge.New()

	p := New(st, newTestRouter(bridge), newTestAuditor(), learner, cards, logger.NewDefault("test"), "pipeline", 1, func() int64 { return 1700000000000 }, time.Hour)

	p.drainOnce(context.Background())

	require.Len(t, st.entries, 1)
	require.Equal(t, store.EntryState(store.StateAudited), st.entryStates[st.entries[0].ID])
	require.Contains(t, cards.created, interaction.KindNeedsReview)
}

func TestProcessDocumentTreatsDuplicateTraceAsSuccess(t *testing.T) {
	doc := store.DocumentRecord{ID: 3, TraceID: "t3", Vendor: "office-depot", AmountMicros: 1_000_000, OccurredAt: 1700000000000, Status: "PENDING"}
	st := newFakePipelineStore([]store.DocumentRecord{doc})
	st.appendErr = apperrors.New(apperrors.KindIntegrity, "t3", apperrors.ErrDuplicateTrace)

	bridge := knowledge.New()
	p := New(st, newTestRouter(bridge), newTestAuditor(), &fakeLearner{}, &fakeCards{}, logger.NewDefault("test"), "pipeline", 1, func() int64 { return 1700000000000 }, time.Hour)

	p.drainOnce(context.Background())

	require.Empty(t, st.entries)
	require.Equal(t, "CLASSIFIED", st.statuses[3])
}
