// Package knowledge is the KnowledgeBridge: the read-mostly rule base the
// L1 router matches proposals against, with a copy-on-write registry swap
// on every rule lifecycle transition (spec §4.4, §5: "rule list rebuilt on
// change, swapped atomically").
package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/PaesslerAG/gval"

	"github.com/nexledger/ledgerd/internal/store"
)

// AuditLevel mirrors store's rules.audit_level column.
type AuditLevel string

const (
	LevelGray    AuditLevel = "GRAY"
	LevelStable  AuditLevel = "STABLE"
	LevelManual  AuditLevel = "MANUAL"
	LevelBlocked AuditLevel = "BLOCKED"
	LevelFailed  AuditLevel = "FAILED"
)

// CompiledRule augments a store.Rule with its pre-parsed condition
// expression, so match evaluation never re-parses on the hot path.
type CompiledRule struct {
	store.Rule
	keywordRe *regexp.Regexp
	condition gval.Evaluable
}

// Match reports whether vendor/amount/category facts satisfy this rule's
// keyword pattern and, if present, its gval condition expression.
func (r *CompiledRule) Match(ctx context.Context, vendor string, amount float64, facts map[string]interface{}) bool {
	if r.IsRegex {
		if r.keywordRe == nil || !r.keywordRe.MatchString(vendor) {
			return false
		}
	} else {
		if !strings.Contains(vendor, r.KeywordPattern) {
			return false
		}
	}

	if r.condition == nil {
		return true
	}
	if facts == nil {
		facts = map[string]interface{}{}
	}
	facts["amount"] = amount
	facts["vendor"] = vendor

	result, err := r.condition.EvalBool(ctx, facts)
	if err != nil {
		return false
	}
	return result
}

// Bridge is the atomic, copy-on-write rule registry. Readers (the L1
// router) call Rules() and iterate a stable snapshot; writers rebuild the
// full ordered list and swap the pointer.
type Bridge struct {
	rules atomic.Pointer[[]*CompiledRule]
}

// New returns an empty Bridge.
func New() *Bridge {
	b := &Bridge{}
	empty := []*CompiledRule{}
	b.rules.Store(&empty)
	return b
}

// Rules returns the current immutable snapshot, ordered by priority
// descending then by specificity (narrower keyword wins ties), per §4.4.
func (b *Bridge) Rules() []*CompiledRule {
	p := b.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Reload compiles raw rows into CompiledRules, orders them, and swaps the
// registry atomically. Rows that fail to compile (bad regex/condition) are
// skipped rather than aborting the whole reload — one malformed rule must
// never take down L1 routing for every other rule.
func (b *Bridge) Reload(rows []store.Rule) []error {
	compiled := make([]*CompiledRule, 0, len(rows))
	var errs []error

	for _, row := range rows {
		cr := &CompiledRule{Rule: row}

		if row.IsRegex {
			re, err := regexp.Compile(row.KeywordPattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s v%d: compile keyword regex: %w", row.RuleID, row.Version, err))
				continue
			}
			cr.keywordRe = re
		}

		if row.Conditions != nil && strings.TrimSpace(*row.Conditions) != "" {
			eval, err := gval.Full().NewEvaluable(*row.Conditions)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s v%d: compile condition: %w", row.RuleID, row.Version, err))
				continue
			}
			cr.condition = eval
		}

		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return len(compiled[i].KeywordPattern) > len(compiled[j].KeywordPattern)
	})

	b.rules.Store(&compiled)
	return errs
}

// MatchFirst returns the first rule (in priority/specificity order) that
// matches, restricted to STABLE/MANUAL/GRAY levels (BLOCKED and FAILED
// rules never match).
func (b *Bridge) MatchFirst(ctx context.Context, vendor string, amount float64, facts map[string]interface{}) *CompiledRule {
	for _, r := range b.Rules() {
		switch AuditLevel(r.AuditLevel) {
		case LevelBlocked, LevelFailed:
			continue
		}
		if r.Match(ctx, vendor, amount, facts) {
			return r
		}
	}
	return nil
}
