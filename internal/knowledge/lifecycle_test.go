package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/store"
)

type fakeStore struct {
	versions   map[string]*store.Rule
	superseded []string
}

func newFakeStore() *fakeStore { return &fakeStore{versions: map[string]*store.Rule{}} }

func (f *fakeStore) InsertRuleVersion(_ context.Context, r *store.Rule) error {
	cp := *r
	f.versions[r.RuleID] = &cp
	return nil
}

func (f *fakeStore) SupersedeRule(_ context.Context, ruleID string, version int, validUntil int64) error {
	f.superseded = append(f.superseded, ruleID)
	return nil
}

func (f *fakeStore) LatestRuleVersion(_ context.Context, ruleID string) (*store.Rule, error) {
	cp := *f.versions[ruleID]
	return &cp, nil
}

func (f *fakeStore) UpdateCounters(_ context.Context, ruleID string, version int, hitCount, rejectCount, consecutiveSuccess int, now int64) error {
	r := f.versions[ruleID]
	r.HitCount = hitCount
	r.RejectCount = rejectCount
	r.ConsecutiveSuccess = consecutiveSuccess
	r.UpdatedAt = now
	return nil
}

func TestLearnL2EntersGray(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())
	require.NoError(t, mgr.Learn(context.Background(), "rule-1", "星巴克", "6602", "L2", 10, 1000))
	require.Equal(t, string(LevelGray), fs.versions["rule-1"].AuditLevel)
}

func TestLearnManualEntersStable(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())
	require.NoError(t, mgr.Learn(context.Background(), "rule-2", "星巴克", "6602", "MANUAL", 10, 1000))
	require.Equal(t, string(LevelStable), fs.versions["rule-2"].AuditLevel)
}

func TestLearnRejectsInvalidAccountCode(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())
	err := mgr.Learn(context.Background(), "rule-3", "x", "not-a-code", "MANUAL", 1, 1000)
	require.Error(t, err)
}

func TestRecordHitPromotesAfterThreshold(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())
	require.NoError(t, mgr.Learn(context.Background(), "rule-4", "x", "6602", "L2", 1, 1000))

	for i := 0; i < promotionThreshold; i++ {
		require.NoError(t, mgr.RecordHit(context.Background(), "rule-4", int64(1000+i)))
	}
	require.Equal(t, string(LevelStable), fs.versions["rule-4"].AuditLevel)
}

func TestDistillConflictsKeepsStableEvictsConflictingGray(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())

	rows := []store.Rule{
		{RuleID: "stable-1", Version: 1, KeywordPattern: "星巴克", ProposedCategory: "6602", AuditLevel: string(LevelStable)},
		{RuleID: "gray-1", Version: 1, KeywordPattern: "星巴克", ProposedCategory: "6603", AuditLevel: string(LevelGray)},
		{RuleID: "gray-2", Version: 1, KeywordPattern: "全家", ProposedCategory: "6601", AuditLevel: string(LevelGray)},
	}

	kept, errs := mgr.DistillConflicts(context.Background(), rows, 2000)
	require.Empty(t, errs)

	ids := make([]string, 0, len(kept))
	for _, r := range kept {
		ids = append(ids, r.RuleID)
	}
	require.ElementsMatch(t, []string{"stable-1", "gray-2"}, ids)
	require.Equal(t, []string{"gray-1"}, fs.superseded)
}

func TestDistillConflictsIgnoresSameCategoryDuplicate(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())

	rows := []store.Rule{
		{RuleID: "stable-1", Version: 1, KeywordPattern: "星巴克", ProposedCategory: "6602", AuditLevel: string(LevelStable)},
		{RuleID: "gray-1", Version: 1, KeywordPattern: "星巴克", ProposedCategory: "6602", AuditLevel: string(LevelGray)},
	}

	kept, errs := mgr.DistillConflicts(context.Background(), rows, 2000)
	require.Empty(t, errs)
	require.Len(t, kept, 2)
	require.Empty(t, fs.superseded)
}

func TestRecordRejectFailsAfterThreshold(t *testing.T) {
	fs := newFakeStore()
	mgr := NewManager(fs, New())
	require.NoError(t, mgr.Learn(context.Background(), "rule-5", "x", "6602", "L2", 1, 1000))

	for i := 0; i < rejectThreshold; i++ {
		require.NoError(t, mgr.RecordReject(context.Background(), "rule-5", int64(1000+i)))
	}
	require.Equal(t, string(LevelFailed), fs.versions["rule-5"].AuditLevel)
}
