package knowledge

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"

	"github.com/nexledger/ledgerd/internal/store"
)

// promotionThreshold is N in "GRAY -> STABLE on N consecutive audit
// approvals with zero rejections" (spec §4.4, default N=3).
const promotionThreshold = 3

// rejectThreshold is the reject_count at which a GRAY rule becomes FAILED.
const rejectThreshold = 2

var accountCodeRe = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// Store is the subset of persistence lifecycle mutation needs; kept narrow
// so it can be faked in tests without a live sqlite file.
type Store interface {
	InsertRuleVersion(ctx context.Context, r *store.Rule) error
	SupersedeRule(ctx context.Context, ruleID string, version int, validUntil int64) error
	LatestRuleVersion(ctx context.Context, ruleID string) (*store.Rule, error)
	UpdateCounters(ctx context.Context, ruleID string, version int, hitCount, rejectCount, consecutiveSuccess int, now int64) error
}

// SQLStore adapts a *sqlx.DB to the Store interface, grounded on the rules
// table's (rule_id, version) composite primary key.
type SQLStore struct{ DB *sqlx.DB }

func (s *SQLStore) InsertRuleVersion(ctx context.Context, r *store.Rule) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO rules
			(rule_id, version, keyword_pattern, is_regex, conditions, proposed_category,
			 priority, audit_level, hit_count, reject_count, consecutive_success,
			 valid_until, source, created_at, updated_at)
		VALUES
			(:rule_id, :version, :keyword_pattern, :is_regex, :conditions, :proposed_category,
			 :priority, :audit_level, :hit_count, :reject_count, :consecutive_success,
			 :valid_until, :source, :created_at, :updated_at)`, r)
	return err
}

func (s *SQLStore) SupersedeRule(ctx context.Context, ruleID string, version int, validUntil int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE rules SET valid_until = ? WHERE rule_id = ? AND version = ?`,
		validUntil, ruleID, version)
	return err
}

func (s *SQLStore) UpdateCounters(ctx context.Context, ruleID string, version int, hitCount, rejectCount, consecutiveSuccess int, now int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE rules SET hit_count = ?, reject_count = ?, consecutive_success = ?, updated_at = ?
		 WHERE rule_id = ? AND version = ?`,
		hitCount, rejectCount, consecutiveSuccess, now, ruleID, version)
	return err
}

func (s *SQLStore) LatestRuleVersion(ctx context.Context, ruleID string) (*store.Rule, error) {
	var r store.Rule
	err := s.DB.GetContext(ctx, &r,
		`SELECT * FROM rules WHERE rule_id = ? AND valid_until IS NULL ORDER BY version DESC LIMIT 1`, ruleID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Manager drives rule lifecycle transitions against a Store and keeps the
// in-memory Bridge synchronized after each change.
type Manager struct {
	store  Store
	bridge *Bridge
}

func NewManager(s Store, b *Bridge) *Manager {
	return &Manager{store: s, bridge: b}
}

// Learn validates and inserts a brand-new rule. source=MANUAL enters STABLE
// directly; source=L2 enters GRAY for probation.
func (m *Manager) Learn(ctx context.Context, ruleID, keywordPattern, proposedCategory, source string, priority int, now int64) error {
	if !accountCodeRe.MatchString(proposedCategory) {
		return fmt.Errorf("knowledge: invalid account code %q", proposedCategory)
	}

	level := LevelGray
	if source == "MANUAL" {
		level = LevelStable
	}

	rule := &store.Rule{
		RuleID:           ruleID,
		Version:          1,
		KeywordPattern:   keywordPattern,
		ProposedCategory: proposedCategory,
		Priority:         priority,
		AuditLevel:       string(level),
		Source:           source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return m.store.InsertRuleVersion(ctx, rule)
}

// RecordHit increments hit_count and consecutive_success, promoting a GRAY
// rule to STABLE once consecutive_success reaches promotionThreshold.
func (m *Manager) RecordHit(ctx context.Context, ruleID string, now int64) error {
	r, err := m.store.LatestRuleVersion(ctx, ruleID)
	if err != nil {
		return err
	}

	r.HitCount++
	r.ConsecutiveSuccess++

	if AuditLevel(r.AuditLevel) == LevelGray && r.ConsecutiveSuccess >= promotionThreshold {
		return m.promote(ctx, r, LevelStable, now)
	}
	return m.store.UpdateCounters(ctx, r.RuleID, r.Version, r.HitCount, r.RejectCount, r.ConsecutiveSuccess, now)
}

// RecordReject increments reject_count and consecutive success resets to
// zero; a GRAY rule with reject_count >= rejectThreshold becomes FAILED.
func (m *Manager) RecordReject(ctx context.Context, ruleID string, now int64) error {
	r, err := m.store.LatestRuleVersion(ctx, ruleID)
	if err != nil {
		return err
	}

	r.RejectCount++
	r.ConsecutiveSuccess = 0

	if AuditLevel(r.AuditLevel) == LevelGray && r.RejectCount >= rejectThreshold {
		return m.promote(ctx, r, LevelFailed, now)
	}
	return m.store.UpdateCounters(ctx, r.RuleID, r.Version, r.HitCount, r.RejectCount, r.ConsecutiveSuccess, now)
}

// promote supersedes the current version (setting valid_until) and inserts
// a new version at the target audit level — rule versioning keeps
// historical entries attributable to the version active when they posted.
func (m *Manager) promote(ctx context.Context, r *store.Rule, level AuditLevel, now int64) error {
	if err := m.store.SupersedeRule(ctx, r.RuleID, r.Version, now); err != nil {
		return err
	}
	next := bumpVersion(r, now)
	next.AuditLevel = string(level)
	return m.store.InsertRuleVersion(ctx, next)
}

func bumpVersion(r *store.Rule, now int64) *store.Rule {
	next := *r
	next.Version = r.Version + 1
	next.UpdatedAt = now
	return &next
}

// DistillConflicts runs the STABLE-vs-GRAY conflict pass over rows before
// they're handed to Bridge.Reload (spec §4.4: "STABLE rules are protected —
// distillation may never delete a STABLE rule that conflicts with a GRAY
// one; the grey one is removed"). Two rules conflict when they share a
// keyword family (same KeywordPattern/IsRegex) but propose different
// categories — left uncompiled together, MatchFirst's outcome would depend
// on priority/specificity tie-breaking rather than on audit trust. The
// losing GRAY row is superseded in storage (so it doesn't resurrect on the
// next reload) and dropped from the rows returned for compilation; the
// STABLE row is always kept untouched.
func (m *Manager) DistillConflicts(ctx context.Context, rows []store.Rule, now int64) ([]store.Rule, []error) {
	type family struct {
		pattern string
		isRegex bool
	}

	stableCategory := make(map[family]string, len(rows))
	for _, r := range rows {
		if AuditLevel(r.AuditLevel) == LevelStable {
			stableCategory[family{r.KeywordPattern, r.IsRegex}] = r.ProposedCategory
		}
	}

	var errs []error
	kept := make([]store.Rule, 0, len(rows))
	for _, r := range rows {
		f := family{r.KeywordPattern, r.IsRegex}
		cat, hasStable := stableCategory[f]
		conflicts := AuditLevel(r.AuditLevel) == LevelGray && hasStable && cat != r.ProposedCategory
		if conflicts {
			if err := m.store.SupersedeRule(ctx, r.RuleID, r.Version, now); err != nil {
				errs = append(errs, fmt.Errorf("knowledge: distill evict rule %s v%d: %w", r.RuleID, r.Version, err))
				kept = append(kept, r) // couldn't persist the eviction; keep it compiled rather than silently drop it
				continue
			}
			continue
		}
		kept = append(kept, r)
	}

	return kept, errs
}
