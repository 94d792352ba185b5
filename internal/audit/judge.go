// Package audit is the AuditorAgent: a deterministic rule-plus-consensus
// check over each proposed entry, classifying it APPROVED, NEEDS_REVIEW, or
// REJECTED with a reason vector (spec §4.5).
package audit

import (
	"regexp"
	"strings"
)

// Verdict is one judge's vote.
type Verdict struct {
	Approve  bool
	Critical bool
	Reason   string
}

// Judge evaluates one facet of a proposed entry.
type Judge interface {
	Name() string
	Evaluate(e Entry) Verdict
}

// Entry is the minimal proposed-entry view judges and red-line checks need.
type Entry struct {
	Vendor      string
	Category    string
	AmountAbs   float64
	Description string
}

// RedLineChecker performs the hard veto pass before any judge runs: a hit
// short-circuits straight to REJECTED with a CRITICAL reason, regardless of
// what the consensus vote would have been.
type RedLineChecker struct {
	patterns        []*regexp.Regexp
	absoluteCeiling float64
}

// NewRedLineChecker compiles keyword/regex red lines and an absolute amount
// ceiling (0 disables the ceiling check).
func NewRedLineChecker(patterns []string, absoluteCeiling float64) *RedLineChecker {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return &RedLineChecker{patterns: compiled, absoluteCeiling: absoluteCeiling}
}

// Check returns a non-empty reason if e trips a red line.
func (c *RedLineChecker) Check(e Entry) (string, bool) {
	haystack := strings.ToLower(e.Vendor + " " + e.Description)
	for _, re := range c.patterns {
		if re.MatchString(haystack) {
			return "red line matched: " + re.String(), true
		}
	}
	if c.absoluteCeiling > 0 && e.AmountAbs > c.absoluteCeiling {
		return "amount exceeds absolute ceiling", true
	}
	return "", false
}

// ComplianceJudge checks keywords/red lines already cleared by
// RedLineChecker, plus softer compliance heuristics (category code shape).
type ComplianceJudge struct{ categoryRe *regexp.Regexp }

func NewComplianceJudge() *ComplianceJudge {
	return &ComplianceJudge{categoryRe: regexp.MustCompile(`^\d{4}(-\d{2})?$`)}
}

func (j *ComplianceJudge) Name() string { return "Compliance" }

func (j *ComplianceJudge) Evaluate(e Entry) Verdict {
	if !j.categoryRe.MatchString(e.Category) {
		return Verdict{Approve: false, Reason: "category code malformed"}
	}
	return Verdict{Approve: true}
}

// FinanceJudge applies amount-tier escalation: linear tolerance up to T1,
// stricter above T1, extreme above 10x T1.
type FinanceJudge struct{ tierT1 float64 }

func NewFinanceJudge(tierT1 float64) *FinanceJudge { return &FinanceJudge{tierT1: tierT1} }

func (j *FinanceJudge) Name() string { return "Finance" }

func (j *FinanceJudge) Evaluate(e Entry) Verdict {
	switch {
	case j.tierT1 <= 0 || e.AmountAbs <= j.tierT1:
		return Verdict{Approve: true}
	case e.AmountAbs <= j.tierT1*10:
		return Verdict{Approve: false, Reason: "amount above tier 1 threshold, requires stricter review"}
	default:
		return Verdict{Approve: false, Critical: true, Reason: "amount exceeds 10x tier 1 threshold"}
	}
}

// TaxJudge checks vendor-vs-category plausibility using a small set of
// known implausible combinations; this is the hand-rolled analogue of the
// red-line keyword lists, scoped to tax-specific pairs.
type TaxJudge struct {
	implausible map[string][]string // category -> vendor substrings that don't belong
}

func NewTaxJudge(implausible map[string][]string) *TaxJudge {
	return &TaxJudge{implausible: implausible}
}

func (j *TaxJudge) Name() string { return "Tax" }

func (j *TaxJudge) Evaluate(e Entry) Verdict {
	vendor := strings.ToLower(e.Vendor)
	for _, bad := range j.implausible[e.Category] {
		if strings.Contains(vendor, strings.ToLower(bad)) {
			return Verdict{Approve: false, Reason: "vendor implausible for category " + e.Category}
		}
	}
	return Verdict{Approve: true}
}
