package match

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// Store is the subset of *store.Store the MatchEngine depends on.
type Store interface {
	ListUnreconciledPending(ctx context.Context, limit, offset int) ([]store.PendingEntry, error)
	ListPostedCandidates(ctx context.Context, amountMicrosAbs, bandMicros, windowStart, windowEnd int64) ([]store.LedgerEntry, error)
	MarkPendingStatus(ctx context.Context, id int64, status string, matchedLedgerID *int64, now int64) error
	ListStalePending(ctx context.Context, olderThan int64, limit int) ([]store.PendingEntry, error)
	InsertOutboxEvent(ctx context.Context, ev *store.OutboxEvent) error
	MaxLedgerID(ctx context.Context) (int64, error)
	VerifyChain(ctx context.Context, from, to int64) (*store.ChainBreak, error)
	Heartbeat(ctx context.Context, workerName string, pid int, state string, now int64) error
}

// evidenceRequestPayload is the JSON envelope for an EVIDENCE_REQUEST
// outbox event.
type evidenceRequestPayload struct {
	PendingEntryID int64  `json:"pending_entry_id"`
	Counterparty   string `json:"counterparty"`
	AmountMicros   int64  `json:"amount_micros"`
	OccurredAt     int64  `json:"occurred_at"`
}

// batchReconciliationPayload is the JSON envelope for a PUSH_CARD event
// surfacing an intermediate-band candidate set for operator review.
type batchReconciliationPayload struct {
	PendingEntryID int64   `json:"pending_entry_id"`
	CandidateIDs   []int64 `json:"candidate_ledger_ids"`
	Scores         []float64 `json:"scores"`
}

// chainBreakPayload is the JSON envelope for a CRITICAL event raised when
// the periodic integrity sampler finds a hash mismatch.
type chainBreakPayload struct {
	LedgerEntryID int64  `json:"ledger_entry_id"`
	Expected      string `json:"expected_hash"`
	Actual        string `json:"actual_hash"`
}

// Engine reconciles pending_entries against POSTED ledger rows, hunts for
// missing evidence on stale pending rows, and periodically samples the hash
// chain for tampering (spec §4.6).
type Engine struct {
	st         Store
	cfg        config.MatchConfig
	log        *logger.Logger
	workerName string
	pid        int

	sampleFrom int64 // low-water mark of the sliding integrity-check window
	sampleSize int64
}

// NewEngine wires a MatchEngine. sampleSize bounds how many ledger rows the
// periodic integrity check verifies per pass.
func NewEngine(st Store, cfg config.MatchConfig, log *logger.Logger, workerName string, pid int, sampleSize int64) *Engine {
	if sampleSize <= 0 {
		sampleSize = 500
	}
	return &Engine{st: st, cfg: cfg, log: log, workerName: workerName, pid: pid, sampleSize: sampleSize}
}

// ReconcileBatch scores one page of UNRECONCILED pending entries against
// POSTED ledger candidates and records each decision. It returns the number
// of pending rows it looked at, so the caller's loop can stop once a page
// comes back short (spec §4.6: "limit/offset batching... per batch the
// worker refreshes its heartbeat").
func (e *Engine) ReconcileBatch(ctx context.Context, offset int, now int64) (int, error) {
	pageSize := e.cfg.BatchSize
	if pageSize <= 0 {
		pageSize = 100
	}

	pending, err := e.st.ListUnreconciledPending(ctx, pageSize, offset)
	if err != nil {
		return 0, err
	}

	tolerance := e.cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 0.01
	}
	windowMillis := int64(e.cfg.WindowDays) * 24 * int64(time.Hour/time.Millisecond)
	if windowMillis <= 0 {
		windowMillis = 7 * 24 * int64(time.Hour/time.Millisecond)
	}

	for _, p := range pending {
		if err := e.reconcileOne(ctx, p, tolerance, windowMillis, now); err != nil {
			e.log.WithField("pending_entry_id", p.ID).WithError(err).Warn("match: reconcile failed, leaving row unreconciled")
		}
	}

	if err := e.st.Heartbeat(ctx, e.workerName, e.pid, "ALIVE", now); err != nil {
		return len(pending), err
	}
	return len(pending), nil
}

func (e *Engine) reconcileOne(ctx context.Context, p store.PendingEntry, tolerance float64, windowMillis, now int64) error {
	amountAbs := absI(p.AmountMicros)
	bandMicros := int64(tolerance*float64(amountAbs)) + 1000

	candidates, err := e.st.ListPostedCandidates(ctx, amountAbs,
		bandMicros, p.OccurredAt-windowMillis, p.OccurredAt+windowMillis)
	if err != nil {
		return err
	}

	var best *store.LedgerEntry
	var bestScore float64
	scored := make([]Candidate, 0, len(candidates))

	for i := range candidates {
		c := candidates[i]
		amount := amountEquality(float64(amountAbs), float64(absI(c.AmountMicros)), tolerance)
		name := nameSimilarity(p.Counterparty, c.Vendor)
		temporal := temporalProximity(p.OccurredAt-c.OccurredAt, windowMillis)
		group := groupBonus(p.GroupID, c.GroupID)
		score := combinedScore(amount, name, temporal, group)

		scored = append(scored, Candidate{LedgerID: c.ID, Score: score})
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	switch {
	case best != nil && bestScore >= e.cfg.AutoThreshold:
		return e.recordMatch(ctx, p, best, now)
	case bestScore >= e.cfg.IntermediateFloor && len(scored) > 0:
		return e.recordBatchCard(ctx, p, scored, now)
	default:
		return nil // stays UNRECONCILED
	}
}

// recordMatch flips the pending row to MATCHED, awaiting the user's
// one-click confirmation unless AutoPost is enabled for the tenant (spec
// §4.6). AutoPost bypasses the confirmation step and moves straight to
// RECONCILED since the threshold crossing already cleared auto_threshold.
func (e *Engine) recordMatch(ctx context.Context, p store.PendingEntry, best *store.LedgerEntry, now int64) error {
	status := "MATCHED"
	if e.cfg.AutoPost {
		status = "RECONCILED"
	}
	return e.st.MarkPendingStatus(ctx, p.ID, status, &best.ID, now)
}

// recordBatchCard enqueues a PUSH_CARD event surfacing the full candidate
// set for operator review; the pending row itself stays UNRECONCILED until
// the operator resolves the card through InteractionHub.
func (e *Engine) recordBatchCard(ctx context.Context, p store.PendingEntry, scored []Candidate, now int64) error {
	ids := make([]int64, len(scored))
	scores := make([]float64, len(scored))
	for i, c := range scored {
		ids[i] = c.LedgerID
		scores[i] = c.Score
	}
	payload, err := json.Marshal(batchReconciliationPayload{PendingEntryID: p.ID, CandidateIDs: ids, Scores: scores})
	if err != nil {
		return err
	}
	return e.st.InsertOutboxEvent(ctx, &store.OutboxEvent{
		EventID:       uuid.NewString(),
		Kind:          "PUSH_CARD",
		Payload:       payload,
		Status:        "PENDING",
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// HuntEvidence scans pending_entries older than EvidenceAfterHours without a
// match and emits an EVIDENCE_REQUEST for each (spec §4.6's "proactive
// evidence hunter").
func (e *Engine) HuntEvidence(ctx context.Context, now int64) (int, error) {
	afterHours := e.cfg.EvidenceAfterHours
	if afterHours <= 0 {
		afterHours = 48
	}
	cutoff := now - int64(afterHours)*int64(time.Hour/time.Millisecond)

	stale, err := e.st.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	for _, p := range stale {
		payload, err := json.Marshal(evidenceRequestPayload{
			PendingEntryID: p.ID,
			Counterparty:   p.Counterparty,
			AmountMicros:   p.AmountMicros,
			OccurredAt:     p.OccurredAt,
		})
		if err != nil {
			return 0, err
		}
		if err := e.st.InsertOutboxEvent(ctx, &store.OutboxEvent{
			EventID:       uuid.NewString(),
			Kind:          "EVIDENCE_REQUEST",
			Payload:       payload,
			Status:        "PENDING",
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// VerifyIntegritySample recomputes the hash chain over the next slice of
// the sliding window and raises a CRITICAL outbox event on the first break
// found (spec §4.6: "sample the ledger and call verify_chain... a mismatch
// raises a CRITICAL event").
func (e *Engine) VerifyIntegritySample(ctx context.Context, now int64) (*store.ChainBreak, error) {
	maxID, err := e.st.MaxLedgerID(ctx)
	if err != nil {
		return nil, err
	}
	if maxID <= e.sampleFrom {
		e.sampleFrom = 0 // wrap around once the sample has caught up to the head
		return nil, nil
	}

	to := e.sampleFrom + e.sampleSize
	if to > maxID {
		to = maxID
	}
	brk, err := e.st.VerifyChain(ctx, e.sampleFrom, to)
	if err != nil {
		return nil, err
	}
	e.sampleFrom = to

	if brk == nil {
		return nil, nil
	}

	payload, merr := json.Marshal(chainBreakPayload{LedgerEntryID: brk.ID, Expected: brk.Expected, Actual: brk.Actual})
	if merr != nil {
		return brk, merr
	}
	if err := e.st.InsertOutboxEvent(ctx, &store.OutboxEvent{
		EventID:       uuid.NewString(),
		Kind:          "CRITICAL",
		Payload:       payload,
		Status:        "PENDING",
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return brk, err
	}
	return brk, nil
}
