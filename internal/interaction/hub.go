package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/store"
)

// Card kinds this hub knows how to resolve.
const (
	KindNeedsReview         = "NEEDS_REVIEW"
	KindBatchReconciliation = "BATCH_RECONCILIATION"
	KindEvidenceRequest     = "EVIDENCE_REQUEST"
)

// Callback actions.
const (
	ActionClick        = "CLICK"
	ActionConfirm      = "CONFIRM"
	ActionReject       = "REJECT"
	ActionBatchConfirm = "BATCH_CONFIRM"
)

var (
	// ErrInvalidSignature means the callback token doesn't match its card.
	ErrInvalidSignature = errors.New("interaction: invalid callback signature")
	// ErrExpired means the card's TTL (or the callback replay window) elapsed.
	ErrExpired = errors.New("interaction: card expired")
	// ErrInvalidTransition means the requested action isn't reachable from
	// the card's current status.
	ErrInvalidTransition = errors.New("interaction: invalid status transition")
	// ErrUnauthorizedRole means the caller's role doesn't match required_role.
	ErrUnauthorizedRole = errors.New("interaction: caller role not authorized")
	// ErrReplay means this exact callback was already processed once.
	ErrReplay = errors.New("interaction: callback replay detected")
)

// Store is the subset of *store.Store the hub depends on.
type Store interface {
	InsertCard(ctx context.Context, c *store.InteractionCard) error
	GetCard(ctx context.Context, cardID string) (*store.InteractionCard, error)
	UpdateCardStatus(ctx context.Context, cardID, status string, replayMarker *string, now int64) error
	UpdateEntryState(ctx context.Context, id int64, newState store.EntryState, now int64) error
	MarkPendingStatus(ctx context.Context, id int64, status string, matchedLedgerID *int64, now int64) error
	InsertOutboxEvent(ctx context.Context, ev *store.OutboxEvent) error
}

// KnowledgeLearner is the subset of internal/knowledge.Manager the hub needs
// to record an operator's manual confirmation as a learned rule.
type KnowledgeLearner interface {
	Learn(ctx context.Context, ruleID, keywordPattern, proposedCategory, source string, priority int, now int64) error
}

// Hub is the InteractionHub: it creates cards, verifies and applies
// callbacks, and is the only component permitted to enqueue outbox events
// (spec §4.7).
type Hub struct {
	st            Store
	learner       KnowledgeLearner
	secret        string
	replayWindowS int64
}

// New wires a Hub. secret signs every callback_token; replayWindowS bounds
// how stale a callback timestamp may be before it's rejected (spec §4.7
// step 5: "a 60 s window on callback timestamps").
func New(st Store, learner KnowledgeLearner, secret string, replayWindowS int) *Hub {
	if replayWindowS <= 0 {
		replayWindowS = 60
	}
	return &Hub{st: st, learner: learner, secret: secret, replayWindowS: int64(replayWindowS)}
}

// CreateCard persists a new card in SENT status and returns its id and
// signed callback token.
func (h *Hub) CreateCard(ctx context.Context, kind string, payload interface{}, requiredRole string, ttl time.Duration, linkedEntityRef string, now int64) (cardID, token string, err error) {
	cardID = uuid.NewString()
	expiresAt := now + ttl.Milliseconds()
	token = signToken(h.secret, cardID, kind, expiresAt)

	var payloadStr *string
	if payload != nil {
		raw, merr := json.Marshal(payload)
		if merr != nil {
			return "", "", merr
		}
		s := string(raw)
		payloadStr = &s
	}

	var ref *string
	if linkedEntityRef != "" {
		ref = &linkedEntityRef
	}

	card := &store.InteractionCard{
		CardID:          cardID,
		Kind:            kind,
		CallbackToken:   token,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		RequiredRole:    requiredRole,
		Status:          "SENT",
		LinkedEntityRef: ref,
		Payload:         payloadStr,
		UpdatedAt:       now,
	}
	if err := h.st.InsertCard(ctx, card); err != nil {
		return "", "", err
	}
	return cardID, token, nil
}

// Callback is the verified, parsed request to handle_callback.
type Callback struct {
	CardID            string
	Token             string
	Action            string
	ActorRole         string
	CallbackTimestamp int64
	ExtraPayload      map[string]interface{}
}

// HandleCallback verifies the token signature, card expiry, callback
// timestamp window, replay marker, role authorization and monotonic
// transition, in that order, then applies the action's downstream effect.
func (h *Hub) HandleCallback(ctx context.Context, cb Callback, now int64) error {
	card, err := h.st.GetCard(ctx, cb.CardID)
	if err != nil {
		return err
	}

	if !verifyToken(h.secret, card.CardID, card.Kind, card.ExpiresAt, cb.Token) {
		return ErrInvalidSignature
	}

	if now > card.ExpiresAt {
		_ = h.st.UpdateCardStatus(ctx, card.CardID, "EXPIRED", nil, now)
		return ErrExpired
	}

	if diff := now - cb.CallbackTimestamp; diff > h.replayWindowS*1000 || diff < -h.replayWindowS*1000 {
		return ErrExpired
	}

	marker := fmt.Sprintf("%s:%s:%d", cb.Action, cb.Token, cb.CallbackTimestamp)
	if card.ReplayMarker != nil && *card.ReplayMarker == marker {
		return ErrReplay
	}

	if card.RequiredRole != "" && card.RequiredRole != cb.ActorRole {
		return ErrUnauthorizedRole
	}

	nextStatus, ok := nextStatusFor(card.Status, cb.Action)
	if !ok {
		return ErrInvalidTransition
	}

	if err := h.applyAction(ctx, card, cb, now); err != nil {
		return err
	}

	return h.st.UpdateCardStatus(ctx, card.CardID, nextStatus, &marker, now)
}

// nextStatusFor encodes the monotonic transition SENT -> CLICKED ->
// COMPLETED (spec §4.7 step 3); EXPIRED is handled separately above since
// it's reachable from any non-terminal state on its own trigger (elapsed
// TTL), not from an action name.
func nextStatusFor(current, action string) (string, bool) {
	switch current {
	case "SENT":
		switch action {
		case ActionClick:
			return "CLICKED", true
		case ActionConfirm, ActionReject, ActionBatchConfirm:
			return "COMPLETED", true
		}
	case "CLICKED":
		switch action {
		case ActionConfirm, ActionReject, ActionBatchConfirm:
			return "COMPLETED", true
		}
	}
	return "", false
}

// applyAction runs the store-level side effect for action, per card kind
// (spec §4.7: "Callbacks drive downstream actions").
func (h *Hub) applyAction(ctx context.Context, card *store.InteractionCard, cb Callback, now int64) error {
	switch cb.Action {
	case ActionClick:
		return nil

	case ActionConfirm:
		if card.Kind != KindNeedsReview {
			return nil
		}
		entryID, err := linkedEntryID(card)
		if err != nil {
			return err
		}
		if h.learner != nil {
			ruleID, _ := cb.ExtraPayload["rule_id"].(string)
			keyword, _ := cb.ExtraPayload["keyword_pattern"].(string)
			category, _ := cb.ExtraPayload["proposed_category"].(string)
			if ruleID != "" && keyword != "" && category != "" {
				if err := h.learner.Learn(ctx, ruleID, keyword, category, "MANUAL", 100, now); err != nil {
					return err
				}
			}
		}
		return h.st.UpdateEntryState(ctx, entryID, store.StatePosted, now)

	case ActionReject:
		if card.Kind != KindNeedsReview {
			return nil
		}
		entryID, err := linkedEntryID(card)
		if err != nil {
			return err
		}
		return h.st.UpdateEntryState(ctx, entryID, store.StateRejected, now)

	case ActionBatchConfirm:
		if card.Kind != KindBatchReconciliation {
			return nil
		}
		return h.applyBatchConfirm(ctx, cb, now)

	default:
		return apperrors.New(apperrors.KindIntegrity, card.CardID, fmt.Errorf("interaction: unknown action %q", cb.Action))
	}
}

func (h *Hub) applyBatchConfirm(ctx context.Context, cb Callback, now int64) error {
	chosen, ok := cb.ExtraPayload["pending_entry_id"].(float64)
	ledgerID, ok2 := cb.ExtraPayload["ledger_entry_id"].(float64)
	if !ok || !ok2 {
		return fmt.Errorf("interaction: batch_confirm requires pending_entry_id and ledger_entry_id")
	}
	lid := int64(ledgerID)
	return h.st.MarkPendingStatus(ctx, int64(chosen), "RECONCILED", &lid, now)
}

func linkedEntryID(card *store.InteractionCard) (int64, error) {
	if card.LinkedEntityRef == nil || *card.LinkedEntityRef == "" {
		return 0, fmt.Errorf("interaction: card %s has no linked entity", card.CardID)
	}
	var id int64
	_, err := fmt.Sscanf(*card.LinkedEntityRef, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("interaction: card %s linked_entity_ref %q not an entry id: %w", card.CardID, *card.LinkedEntityRef, err)
	}
	return id, nil
}
