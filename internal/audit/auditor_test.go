package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAuditor(strategy Strategy) *Auditor {
	redLines := NewRedLineChecker([]string{"luxury", "奢侈品"}, 1_000_000)
	judges := []Judge{
		NewComplianceJudge(),
		NewFinanceJudge(10000),
		NewTaxJudge(map[string][]string{"6602": {"law firm"}}),
	}
	return NewAuditor(redLines, judges, strategy, 0.6, 0.7, 0.5)
}

func TestAuditRejectsRedLineHit(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	result := a.Audit(Entry{Vendor: "Luxury Goods Co", Category: "6602", AmountAbs: 50}, 0.9, nil)
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.True(t, result.Votes[0].Critical)
}

func TestAuditRejectsOnExtremeAmountCritical(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	result := a.Audit(Entry{Vendor: "Acme", Category: "6602", AmountAbs: 200000}, 0.9, nil)
	require.Equal(t, OutcomeRejected, result.Outcome)
}

func TestAuditApprovesCleanEntryUnderBalanced(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	result := a.Audit(Entry{Vendor: "Acme", Category: "6602", AmountAbs: 50}, 0.95, nil)
	require.Equal(t, OutcomeApproved, result.Outcome)
}

func TestAuditStrictRequiresUnanimity(t *testing.T) {
	a := newTestAuditor(StrategyStrict)
	// Tax judge disapproves (law firm vendor under 6602), others approve.
	result := a.Audit(Entry{Vendor: "Some Law Firm LLP", Category: "6602", AmountAbs: 50}, 0.95, nil)
	require.Equal(t, OutcomeRejected, result.Outcome)
}

func TestAuditMalformedCategoryFailsCompliance(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	// Amount also trips Finance's tier-1 band so only Tax approves (1/3 < 2/3).
	result := a.Audit(Entry{Vendor: "Acme", Category: "not-a-code", AmountAbs: 50000}, 0.95, nil)
	require.Equal(t, OutcomeRejected, result.Outcome)
}

func TestAuditLowConfidenceGoesToNeedsReview(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	// Tax disapproves (2/3 consensus, still clears BALANCED) but low rule
	// confidence drags the blended score under the review band.
	result := a.Audit(Entry{Vendor: "Some Law Firm LLP", Category: "6602", AmountAbs: 50}, 0.1, nil)
	require.Equal(t, OutcomeNeedsReview, result.Outcome)
}

func TestHistoricalRiskAddsPointsForCategoryDeviation(t *testing.T) {
	a := newTestAuditor(StrategyBalanced)
	history := []HistoricalPoint{
		{Category: "1001", Amount: 50, DaysSinceAt: 1},
		{Category: "1001", Amount: 55, DaysSinceAt: 2},
		{Category: "1001", Amount: 52, DaysSinceAt: 3},
	}
	result := a.Audit(Entry{Vendor: "Acme", Category: "6602", AmountAbs: 50}, 0.95, history)
	require.Positive(t, result.RiskPoints)
}
