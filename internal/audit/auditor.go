package audit

import "math"

// Outcome is the audit's final classification.
type Outcome string

const (
	OutcomeApproved     Outcome = "APPROVED"
	OutcomeNeedsReview  Outcome = "NEEDS_REVIEW"
	OutcomeRejected     Outcome = "REJECTED"
)

// Strategy is the voting rule applied to the three-judge consensus.
type Strategy string

const (
	StrategyStrict   Strategy = "STRICT"   // unanimity required
	StrategyBalanced Strategy = "BALANCED" // 2/3 majority
	StrategyGrowth   Strategy = "GROWTH"   // 1/3 tolerant, favors throughput
)

// HistoricalPoint is one prior entry for a vendor, used by the time-decay
// weighted consistency check.
type HistoricalPoint struct {
	Category    string
	Amount      float64
	DaysSinceAt float64
}

// Result is the auditor's full decision for one proposed entry.
type Result struct {
	Outcome    Outcome
	Confidence float64
	Votes      []Verdict
	RiskPoints float64
}

// Auditor runs the four-stage algorithm from spec §4.5: red lines, judge
// consensus, historical consistency, confidence scoring.
type Auditor struct {
	redLines          *RedLineChecker
	judges            []Judge
	strategy          Strategy
	reviewBand        float64
	categoryDeviation float64 // max tolerated share deviation before risk points
	priceDeviation    float64 // max tolerated weighted price deviation ratio
}

func NewAuditor(redLines *RedLineChecker, judges []Judge, strategy Strategy, reviewBand, categoryDeviation, priceDeviation float64) *Auditor {
	return &Auditor{
		redLines:          redLines,
		judges:            judges,
		strategy:          strategy,
		reviewBand:        reviewBand,
		categoryDeviation: categoryDeviation,
		priceDeviation:    priceDeviation,
	}
}

// Audit runs the full algorithm. ruleConfidence and consensusMargin feed
// the final confidence blend; history is the vendor's prior entries for
// the consistency check.
func (a *Auditor) Audit(e Entry, ruleConfidence float64, history []HistoricalPoint) Result {
	if reason, hit := a.redLines.Check(e); hit {
		return Result{
			Outcome: OutcomeRejected,
			Votes:   []Verdict{{Approve: false, Critical: true, Reason: reason}},
		}
	}

	votes := make([]Verdict, 0, len(a.judges))
	approvals := 0
	critical := false
	for _, j := range a.judges {
		v := j.Evaluate(e)
		votes = append(votes, v)
		if v.Critical {
			critical = true
		}
		if v.Approve {
			approvals++
		}
	}

	if critical {
		return Result{Outcome: OutcomeRejected, Votes: votes}
	}

	consensusApproved := a.voteWins(approvals, len(votes))
	consensusMargin := float64(approvals) / float64(max(len(votes), 1))

	riskPoints := a.historicalRisk(e, history)

	confidence := blendConfidence(ruleConfidence, consensusMargin, riskPoints)

	outcome := OutcomeApproved
	switch {
	case !consensusApproved:
		outcome = OutcomeRejected
	case confidence < a.reviewBand:
		outcome = OutcomeNeedsReview
	}

	return Result{Outcome: outcome, Confidence: confidence, Votes: votes, RiskPoints: riskPoints}
}

func (a *Auditor) voteWins(approvals, total int) bool {
	if total == 0 {
		return false
	}
	switch a.strategy {
	case StrategyStrict:
		return approvals == total
	case StrategyGrowth:
		return float64(approvals)/float64(total) >= 1.0/3.0
	default: // BALANCED
		return float64(approvals)/float64(total) >= 2.0/3.0
	}
}

// historicalRisk computes deviation from the rolling category distribution
// and from a time-decay weighted mean price, adding risk points for each
// bound exceeded (spec §4.5 step 3: w_i = 1 / (1 + days_since_i)).
func (a *Auditor) historicalRisk(e Entry, history []HistoricalPoint) float64 {
	if len(history) == 0 {
		return 0
	}

	sameCategory := 0
	var weightSum, weightedAmountSum float64
	for _, h := range history {
		if h.Category == e.Category {
			sameCategory++
		}
		w := 1.0 / (1.0 + h.DaysSinceAt)
		weightSum += w
		weightedAmountSum += w * h.Amount
	}

	categoryShare := float64(sameCategory) / float64(len(history))
	risk := 0.0
	if (1.0 - categoryShare) > a.categoryDeviation {
		risk += 1.0 - categoryShare
	}

	if weightSum > 0 {
		weightedMean := weightedAmountSum / weightSum
		if weightedMean > 0 {
			deviation := math.Abs(e.AmountAbs-weightedMean) / weightedMean
			if deviation > a.priceDeviation {
				risk += deviation
			}
		}
	}

	return risk
}

// blendConfidence combines rule quality, consensus margin, and historical
// consistency into a single [0,1] score. Weights (0.4/0.4/0.2) favor rule
// quality and consensus equally, with history as a smaller adjustment.
func blendConfidence(ruleConfidence, consensusMargin, riskPoints float64) float64 {
	historyScore := 1.0 - math.Min(riskPoints, 1.0)
	score := 0.4*ruleConfidence + 0.4*consensusMargin + 0.2*historyScore
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
