// Package match is the MatchEngine: it reconciles pending_entries (bank and
// payment shadow rows) against POSTED ledger entries by scoring candidates
// on amount, counterparty-name similarity, temporal proximity and
// multimodal grouping (spec §4.6).
package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// weightAmount/weightName/weightTemporal sum to 1.0 so a perfect match on
// all three alone already clears auto_threshold (spec §4.6, §8 property 5);
// weightGroup is a separate additive bonus on top, not a slice of that 1.0,
// since most reconciliations never share a group_id and the score must not
// depend on one to reach auto-match.
const (
	weightAmount   = 0.40
	weightName     = 0.35
	weightTemporal = 0.25
	weightGroup    = 0.10
)

// Candidate is one scored ledger entry considered for a pending row.
type Candidate struct {
	LedgerID int64
	Score    float64
}

// amountEquality is a binary score: 1 if the two absolute amounts are
// within the configured relative tolerance, else 0.
func amountEquality(pendingAbs, candidateAbs, tolerance float64) float64 {
	if pendingAbs == 0 {
		if candidateAbs == 0 {
			return 1
		}
		return 0
	}
	rel := absF(pendingAbs-candidateAbs) / absF(pendingAbs)
	if rel <= tolerance {
		return 1
	}
	return 0
}

// nameSimilarity is a fuzzy ratio in [0,1] between counterparty and vendor:
// tokenized, lowercased, then scored by normalized Levenshtein distance
// (spec §4.6: "name similarity (fuzzy ratio on counterparty vs vendor;
// tokenized; lowercased)").
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 1
	}
	similarity := 1 - float64(dist)/float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}
	return similarity
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// temporalProximity applies linear decay over the reconciliation window: 1
// at zero distance, 0 at or beyond windowMillis.
func temporalProximity(diffMillis, windowMillis int64) float64 {
	if windowMillis <= 0 {
		return 0
	}
	if diffMillis < 0 {
		diffMillis = -diffMillis
	}
	if diffMillis >= windowMillis {
		return 0
	}
	return 1 - float64(diffMillis)/float64(windowMillis)
}

// groupBonus rewards a pending entry and a candidate that share a non-empty
// group_id: multimodal captures (e.g. a receipt photo and its bank line)
// are treated as a single reconciliation unit (spec §4.6).
func groupBonus(pendingGroup, candidateGroup *string) float64 {
	if pendingGroup == nil || candidateGroup == nil {
		return 0
	}
	if *pendingGroup == "" || *candidateGroup == "" {
		return 0
	}
	if *pendingGroup == *candidateGroup {
		return 1
	}
	return 0
}

// combinedScore blends the four signals per spec §4.6's weighted
// combination.
func combinedScore(amount, name, temporal, group float64) float64 {
	return weightAmount*amount + weightName*name + weightTemporal*temporal + weightGroup*group
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func absI(i int64) int64 {
	if i < 0 {
		return -i
	}
	return i
}
