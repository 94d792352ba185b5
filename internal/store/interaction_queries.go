package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpdateEntryState transitions a ledger entry to newState. This is how a
// NEEDS_REVIEW (AUDITED) entry resolves to POSTED or REJECTED via an operator
// callback; the row isn't yet in a terminal state at the time of this call,
// so the integrity trigger (I2) does not block it.
func (s *Store) UpdateEntryState(ctx context.Context, id int64, newState EntryState, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE ledger_entries SET state = ?, updated_at = ? WHERE id = ?`, newState, now, id)
		return err
	})
}

// InsertCard persists a new interaction card.
func (s *Store) InsertCard(ctx context.Context, c *InteractionCard) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO interaction_cards
				(card_id, kind, callback_token, created_at, expires_at, required_role,
				 status, linked_entity_ref, payload, replay_marker, updated_at)
			VALUES
				(:card_id, :kind, :callback_token, :created_at, :expires_at, :required_role,
				 :status, :linked_entity_ref, :payload, :replay_marker, :updated_at)`, c)
		return err
	})
}

// GetCard fetches a card by id.
func (s *Store) GetCard(ctx context.Context, cardID string) (*InteractionCard, error) {
	var c InteractionCard
	err := s.db.GetContext(ctx, &c, `SELECT * FROM interaction_cards WHERE card_id = ?`, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdateCardStatus advances a card's status and, on first use, records a
// replay marker (a one-shot guard against callback replay per §4.7 step 5).
func (s *Store) UpdateCardStatus(ctx context.Context, cardID, status string, replayMarker *string, now int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE interaction_cards SET status = ?, replay_marker = ?, updated_at = ? WHERE card_id = ?`,
			status, replayMarker, now, cardID)
		return err
	})
}

// ListPendingOutbox returns due PENDING/FAILED-due-for-retry events, oldest
// first, for the outbox dispatcher's poll loop.
func (s *Store) ListPendingOutbox(ctx context.Context, limit int, now int64) ([]OutboxEvent, error) {
	var rows []OutboxEvent
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM outbox_events
		WHERE status IN ('PENDING','FAILED') AND next_attempt_at <= ?
		ORDER BY created_at ASC LIMIT ?`, now, limit)
	return rows, err
}

// MarkOutboxResult records the outcome of one dispatch attempt: ACK on
// success, or FAILED with attempts incremented and next_attempt_at
// rescheduled on failure.
func (s *Store) MarkOutboxResult(ctx context.Context, eventID string, success bool, nextAttemptAt, now int64) error {
	return s.withRetry(ctx, func() error {
		status := "FAILED"
		if success {
			status = "ACK"
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE outbox_events SET status = ?, attempts = attempts + 1, next_attempt_at = ?, updated_at = ? WHERE event_id = ?`,
			status, nextAttemptAt, now, eventID)
		return err
	})
}

// CountOutboxBacklog returns the number of events still awaiting delivery,
// the input to the outbox depth-threshold alert.
func (s *Store) CountOutboxBacklog(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM outbox_events WHERE status IN ('PENDING','FAILED')`)
	return count, err
}
