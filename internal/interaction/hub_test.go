package interaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexledger/ledgerd/internal/store"
)

type fakeHubStore struct {
	cards        map[string]*store.InteractionCard
	entryStates  map[int64]store.EntryState
	pendingStatus map[int64]string
	events       []store.OutboxEvent
}

func newFakeHubStore() *fakeHubStore {
	return &fakeHubStore{
		cards:         map[string]*store.InteractionCard{},
		entryStates:   map[int64]store.EntryState{},
		pendingStatus: map[int64]string{},
	}
}

func (f *fakeHubStore) InsertCard(_ context.Context, c *store.InteractionCard) error {
	cp := *c
	f.cards[c.CardID] = &cp
	return nil
}

func (f *fakeHubStore) GetCard(_ context.Context, cardID string) (*store.InteractionCard, error) {
	c, ok := f.cards[cardID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeHubStore) UpdateCardStatus(_ context.Context, cardID, status string, replayMarker *string, now int64) error {
	c, ok := f.cards[cardID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	c.ReplayMarker = replayMarker
	c.UpdatedAt = now
	return nil
}

func (f *fakeHubStore) UpdateEntryState(_ context.Context, id int64, newState store.EntryState, _ int64) error {
	f.entryStates[id] = newState
	return nil
}

func (f *fakeHubStore) MarkPendingStatus(_ context.Context, id int64, status string, _ *int64, _ int64) error {
	f.pendingStatus[id] = status
	return nil
}

func (f *fakeHubStore) InsertOutboxEvent(_ context.Context, ev *store.OutboxEvent) error {
	f.events = append(f.events, *ev)
	return nil
}

type fakeLearner struct{ calls int }

func (f *fakeLearner) Learn(_ context.Context, _, _, _, _ string, _ int, _ int64) error {
	f.calls++
	return nil
}

func TestCreateCardThenConfirmPostsEntry(t *testing.T) {
	st := newFakeHubStore()
	learner := &fakeLearner{}
	h := New(st, learner, "s3cr3t", 60)

	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, map[string]string{"x": "y"}, "accountant", time.Hour, "42", 1_000_000)
	require.NoError(t, err)

	err = h.HandleCallback(context.Background(), Callback{
		CardID:            cardID,
		Token:             token,
		Action:            ActionConfirm,
		ActorRole:         "accountant",
		CallbackTimestamp: 1_000_000,
		ExtraPayload: map[string]interface{}{
			"rule_id": "r1", "keyword_pattern": "Acme", "proposed_category": "6602",
		},
	}, 1_000_010)
	require.NoError(t, err)
	require.Equal(t, store.StatePosted, st.entryStates[42])
	require.Equal(t, 1, learner.calls)
	require.Equal(t, "COMPLETED", st.cards[cardID].Status)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)
	cardID, _, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Hour, "42", 1_000_000)
	require.NoError(t, err)

	err = h.HandleCallback(context.Background(), Callback{CardID: cardID, Token: "forged", Action: ActionConfirm, ActorRole: "accountant", CallbackTimestamp: 1_000_000}, 1_000_010)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleCallbackRejectsWrongRole(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)
	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Hour, "42", 1_000_000)
	require.NoError(t, err)

	err = h.HandleCallback(context.Background(), Callback{CardID: cardID, Token: token, Action: ActionReject, ActorRole: "intern", CallbackTimestamp: 1_000_000}, 1_000_010)
	require.ErrorIs(t, err, ErrUnauthorizedRole)
}

func TestHandleCallbackRejectsStaleTimestamp(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)
	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Hour, "42", 1_000_000)
	require.NoError(t, err)

	err = h.HandleCallback(context.Background(), Callback{CardID: cardID, Token: token, Action: ActionReject, ActorRole: "accountant", CallbackTimestamp: 1_000_000}, 1_000_000+120_000)
	require.ErrorIs(t, err, ErrExpired)
}

func TestHandleCallbackRejectsExpiredCard(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)
	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Millisecond, "42", 1_000_000)
	require.NoError(t, err)

	err = h.HandleCallback(context.Background(), Callback{CardID: cardID, Token: token, Action: ActionReject, ActorRole: "accountant", CallbackTimestamp: 2_000_000}, 2_000_000)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, "EXPIRED", st.cards[cardID].Status)
}

func TestHandleCallbackRejectsReplay(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)
	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Hour, "42", 1_000_000)
	require.NoError(t, err)

	cb := Callback{CardID: cardID, Token: token, Action: ActionReject, ActorRole: "accountant", CallbackTimestamp: 1_000_000}
	require.NoError(t, h.HandleCallback(context.Background(), cb, 1_000_010))
	err = h.HandleCallback(context.Background(), cb, 1_000_020)
	require.ErrorIs(t, err, ErrReplay, "identical callback replayed with the same token and timestamp")
}

func TestHandleCallbackRejectAndBatchConfirm(t *testing.T) {
	st := newFakeHubStore()
	h := New(st, nil, "s3cr3t", 60)

	cardID, token, err := h.CreateCard(context.Background(), KindNeedsReview, nil, "accountant", time.Hour, "7", 1_000_000)
	require.NoError(t, err)
	require.NoError(t, h.HandleCallback(context.Background(), Callback{CardID: cardID, Token: token, Action: ActionReject, ActorRole: "accountant", CallbackTimestamp: 1_000_000}, 1_000_010))
	require.Equal(t, store.StateRejected, st.entryStates[7])

	batchCardID, batchToken, err := h.CreateCard(context.Background(), KindBatchReconciliation, nil, "accountant", time.Hour, "", 1_000_000)
	require.NoError(t, err)
	err = h.HandleCallback(context.Background(), Callback{
		CardID: batchCardID, Token: batchToken, Action: ActionBatchConfirm, ActorRole: "accountant", CallbackTimestamp: 1_000_000,
		ExtraPayload: map[string]interface{}{"pending_entry_id": float64(5), "ledger_entry_id": float64(99)},
	}, 1_000_010)
	require.NoError(t, err)
	require.Equal(t, "RECONCILED", st.pendingStatus[5])
}
