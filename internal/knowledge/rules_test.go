package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/store"
)

func TestReloadOrdersByPriorityThenSpecificity(t *testing.T) {
	b := New()
	errs := b.Reload([]store.Rule{
		{RuleID: "low", Version: 1, KeywordPattern: "coffee", ProposedCategory: "6602", Priority: 1, AuditLevel: "STABLE"},
		{RuleID: "high", Version: 1, KeywordPattern: "星巴克", ProposedCategory: "6602", Priority: 10, AuditLevel: "STABLE"},
	})
	require.Empty(t, errs)

	rules := b.Rules()
	require.Len(t, rules, 2)
	require.Equal(t, "high", rules[0].RuleID)
}

func TestReloadSkipsBadRegexButKeepsOthers(t *testing.T) {
	b := New()
	errs := b.Reload([]store.Rule{
		{RuleID: "broken", Version: 1, KeywordPattern: "(unterminated", IsRegex: true, ProposedCategory: "6602", AuditLevel: "STABLE"},
		{RuleID: "ok", Version: 1, KeywordPattern: "coffee", ProposedCategory: "6602", AuditLevel: "STABLE"},
	})
	require.Len(t, errs, 1)
	require.Len(t, b.Rules(), 1)
	require.Equal(t, "ok", b.Rules()[0].RuleID)
}

func TestMatchFirstSkipsBlockedAndFailed(t *testing.T) {
	b := New()
	b.Reload([]store.Rule{
		{RuleID: "blocked", Version: 1, KeywordPattern: "coffee", ProposedCategory: "6602", Priority: 10, AuditLevel: "BLOCKED"},
		{RuleID: "stable", Version: 1, KeywordPattern: "coffee", ProposedCategory: "6602", Priority: 5, AuditLevel: "STABLE"},
	})

	match := b.MatchFirst(context.Background(), "coffee shop", 10.0, nil)
	require.NotNil(t, match)
	require.Equal(t, "stable", match.RuleID)
}

func TestCompiledRuleConditionEvaluation(t *testing.T) {
	b := New()
	cond := "amount > 100"
	b.Reload([]store.Rule{
		{RuleID: "big", Version: 1, KeywordPattern: "vendor", ProposedCategory: "6602", AuditLevel: "STABLE", Conditions: &cond},
	})

	require.Nil(t, b.MatchFirst(context.Background(), "vendor", 50, nil))
	require.NotNil(t, b.MatchFirst(context.Background(), "vendor", 150, nil))
}
