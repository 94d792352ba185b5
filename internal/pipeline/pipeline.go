// Package pipeline is the AccountingAgent+AuditorAgent worker: it drains
// document_records the collector wrote, routes each through
// internal/accounting for a category proposal, runs internal/audit's
// four-stage check over the proposal, appends the resulting ledger entry,
// and — on NEEDS_REVIEW — opens an interaction card for a human decision
// (spec §4.4, §4.5, §4.7's "Callbacks drive downstream actions").
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nexledger/ledgerd/internal/accounting"
	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/audit"
	"github.com/nexledger/ledgerd/internal/interaction"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// RoleAccountant is the required_role on every NEEDS_REVIEW card this
// pipeline opens: the one human role spec §4.7's card lifecycle assumes for
// proposed-entry review.
const RoleAccountant = "ACCOUNTANT"

// Store is the subset of *store.Store the pipeline depends on.
type Store interface {
	ListPendingDocuments(ctx context.Context, limit int) ([]store.DocumentRecord, error)
	MarkDocumentStatus(ctx context.Context, id int64, status string, now int64) error
	ListRecentEntriesByVendor(ctx context.Context, vendor string, limit int) ([]store.LedgerEntry, error)
	AppendEntry(ctx context.Context, e *store.LedgerEntry) error
	UpdateEntryState(ctx context.Context, id int64, newState store.EntryState, now int64) error
	Heartbeat(ctx context.Context, workerName string, pid int, state string, now int64) error
}

// RuleLearner is the subset of *knowledge.Manager the pipeline needs to
// feed GRAY rule promotion/demotion from real audit outcomes.
type RuleLearner interface {
	RecordHit(ctx context.Context, ruleID string, now int64) error
	RecordReject(ctx context.Context, ruleID string, now int64) error
}

// CardOpener is the subset of *interaction.Hub the pipeline needs to raise
// a NEEDS_REVIEW card.
type CardOpener interface {
	CreateCard(ctx context.Context, kind string, payload interface{}, requiredRole string, ttl time.Duration, linkedEntityRef string, now int64) (cardID, token string, err error)
}

// Pipeline wires the Router/Auditor pair around document_records.
type Pipeline struct {
	st         Store
	router     *accounting.Router
	auditor    *audit.Auditor
	learner    RuleLearner
	cards      CardOpener
	log        *logger.Logger
	workerName string
	pid        int
	nowFn      func() int64
	cardTTL    time.Duration
	batchSize  int
}

// New wires a Pipeline. cardTTL bounds how long a NEEDS_REVIEW card stays
// live before HandleCallback treats it as expired.
func New(st Store, router *accounting.Router, auditor *audit.Auditor, learner RuleLearner, cards CardOpener, log *logger.Logger, workerName string, pid int, nowFn func() int64, cardTTL time.Duration) *Pipeline {
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}
	if cardTTL <= 0 {
		cardTTL = 24 * time.Hour
	}
	return &Pipeline{
		st:         st,
		router:     router,
		auditor:    auditor,
		learner:    learner,
		cards:      cards,
		log:        log,
		workerName: workerName,
		pid:        pid,
		nowFn:      nowFn,
		cardTTL:    cardTTL,
		batchSize:  50,
	}
}

// Run drains pending documents on tickerEvery until ctx is cancelled. It
// owns its own heartbeat: every pass, however many documents it processed,
// ends with a Heartbeat call (the same convention internal/match and
// internal/collector follow).
func (p *Pipeline) Run(ctx context.Context, tickerEvery time.Duration) error {
	if tickerEvery <= 0 {
		tickerEvery = 3 * time.Second
	}
	ticker := time.NewTicker(tickerEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	now := p.nowFn()

	docs, err := p.st.ListPendingDocuments(ctx, p.batchSize)
	if err != nil {
		p.log.WithError(err).Error("pipeline: list pending documents failed")
	}

	for _, d := range docs {
		if err := p.processDocument(ctx, d, p.nowFn()); err != nil {
			p.log.WithField("trace_id", d.TraceID).WithError(err).Warn("pipeline: document processing failed")
		}
	}

	if err := p.st.Heartbeat(ctx, p.workerName, p.pid, "ALIVE", now); err != nil {
		p.log.WithError(err).Error("pipeline: heartbeat failed")
	}
}

// processDocument runs one document_record through classify -> audit ->
// append, soft-failing (recorded on the row, not returned) for anything
// short of a persistence error.
func (p *Pipeline) processDocument(ctx context.Context, d store.DocumentRecord, now int64) error {
	doc := accounting.Document{
		TraceID:    d.TraceID,
		Vendor:     d.Vendor,
		AmountAbs:  math.Abs(microsToFloat(d.AmountMicros)),
		OccurredAt: d.OccurredAt,
	}
	if d.GroupID != nil {
		doc.GroupID = *d.GroupID
	}

	proposal := p.router.Classify(ctx, doc)

	history, err := p.st.ListRecentEntriesByVendor(ctx, d.Vendor, 50)
	if err != nil {
		return p.fail(ctx, d, now, fmt.Errorf("vendor history lookup: %w", err))
	}

	entry := audit.Entry{
		Vendor:    d.Vendor,
		Category:  proposal.Category,
		AmountAbs: doc.AmountAbs,
	}
	result := p.auditor.Audit(entry, proposal.Confidence, historicalPoints(history, now))

	ledgerEntry := &store.LedgerEntry{
		TraceID:      d.TraceID,
		AmountMicros: d.AmountMicros,
		Vendor:       d.Vendor,
		Category:     proposal.Category,
		OccurredAt:   d.OccurredAt,
		TenantID:     d.TenantID,
		State:        store.StateProposed,
		InsertedAt:   now,
		UpdatedAt:    now,
	}
	if d.GroupID != nil {
		ledgerEntry.GroupID = d.GroupID
	}
	if proposal.MatchedRule != "" {
		rule := proposal.MatchedRule
		ledgerEntry.MatchedRule = &rule
	}
	if raw, merr := json.Marshal(proposal.InferenceLog); merr == nil {
		s := string(raw)
		ledgerEntry.InferenceLog = &s
	}

	if err := p.st.AppendEntry(ctx, ledgerEntry); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateTrace) {
			return p.succeed(ctx, d, now)
		}
		return p.fail(ctx, d, now, fmt.Errorf("append ledger entry: %w", err))
	}

	if err := p.applyOutcome(ctx, ledgerEntry, proposal, result, now); err != nil {
		return p.fail(ctx, d, now, err)
	}

	return p.succeed(ctx, d, now)
}

func (p *Pipeline) applyOutcome(ctx context.Context, e *store.LedgerEntry, proposal accounting.Proposal, result audit.Result, now int64) error {
	switch result.Outcome {
	case audit.OutcomeApproved:
		if err := p.st.UpdateEntryState(ctx, e.ID, store.StatePosted, now); err != nil {
			return err
		}
		p.recordRuleOutcome(ctx, proposal.MatchedRule, true, now)

	case audit.OutcomeRejected:
		if err := p.st.UpdateEntryState(ctx, e.ID, store.StateRejected, now); err != nil {
			return err
		}
		p.recordRuleOutcome(ctx, proposal.MatchedRule, false, now)

	default: // NEEDS_REVIEW
		if err := p.st.UpdateEntryState(ctx, e.ID, store.StateAudited, now); err != nil {
			return err
		}
		if p.cards == nil {
			return nil
		}
		payload := map[string]interface{}{
			"trace_id":          e.TraceID,
			"vendor":            e.Vendor,
			"proposed_category": proposal.Category,
			"confidence":        proposal.Confidence,
			"rule_id":           proposal.MatchedRule,
			"risk_points":       result.RiskPoints,
		}
		_, _, err := p.cards.CreateCard(ctx, interaction.KindNeedsReview, payload, RoleAccountant, p.cardTTL, fmt.Sprintf("%d", e.ID), now)
		return err
	}
	return nil
}

func (p *Pipeline) recordRuleOutcome(ctx context.Context, ruleID string, approved bool, now int64) {
	if p.learner == nil || ruleID == "" {
		return
	}
	var err error
	if approved {
		err = p.learner.RecordHit(ctx, ruleID, now)
	} else {
		err = p.learner.RecordReject(ctx, ruleID, now)
	}
	if err != nil {
		p.log.WithField("rule_id", ruleID).WithError(err).Warn("pipeline: rule lifecycle update failed")
	}
}

func (p *Pipeline) fail(ctx context.Context, d store.DocumentRecord, now int64, cause error) error {
	if err := p.st.MarkDocumentStatus(ctx, d.ID, "FAILED", now); err != nil {
		p.log.WithError(err).Error("pipeline: mark document failed status failed")
	}
	return cause
}

func (p *Pipeline) succeed(ctx context.Context, d store.DocumentRecord, now int64) error {
	return p.st.MarkDocumentStatus(ctx, d.ID, "CLASSIFIED", now)
}

func microsToFloat(micros int64) float64 {
	return float64(micros) / 1_000_000
}

func historicalPoints(entries []store.LedgerEntry, now int64) []audit.HistoricalPoint {
	points := make([]audit.HistoricalPoint, 0, len(entries))
	for _, e := range entries {
		days := float64(now-e.OccurredAt) / float64(24*60*60*1000)
		if days < 0 {
			days = 0
		}
		points = append(points, audit.HistoricalPoint{
			Category:    e.Category,
			Amount:      microsToFloat(e.AmountMicros),
			DaysSinceAt: days,
		})
	}
	return points
}
