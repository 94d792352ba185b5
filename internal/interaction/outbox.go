package interaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/nexledger/ledgerd/internal/metrics"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// OutboxStore is the subset of *store.Store the dispatcher needs.
type OutboxStore interface {
	ListPendingOutbox(ctx context.Context, limit int, now int64) ([]store.OutboxEvent, error)
	MarkOutboxResult(ctx context.Context, eventID string, success bool, nextAttemptAt, now int64) error
	CountOutboxBacklog(ctx context.Context) (int, error)
}

// Sender dispatches one rendered envelope to its external channel. The
// concrete webhook/push implementation is an external collaborator (spec
// §1's Non-goals: "the signed webhook HTTP surface beyond its callback
// contract"); this package only owns the polling, rendering and retry
// bookkeeping around it.
type Sender interface {
	Send(ctx context.Context, envelope []byte) error
}

// HTTPSender posts each envelope as a JSON body to a fixed URL, the default
// Sender for a single downstream webhook consumer.
type HTTPSender struct {
	Client *http.Client
	URL    string
}

func (s *HTTPSender) Send(ctx context.Context, envelope []byte) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("outbox: sender returned status %d", resp.StatusCode)
	}
	return nil
}

// envelope is the platform-agnostic JSON wrapper every outbox event is
// rendered into before being handed to Sender.
type envelope struct {
	EventID string          `json:"event_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher is the outbox's polling worker: it consumes PENDING/FAILED-due
// events, renders and dispatches them, and reschedules on failure with
// exponential backoff plus jitter (spec §4.7).
type Dispatcher struct {
	st          OutboxStore
	sender      Sender
	log         *logger.Logger
	maxAttempts int
	backoffBase time.Duration
	depthAlert  int
	batchSize   int
}

func NewDispatcher(st OutboxStore, sender Sender, log *logger.Logger, maxAttempts int, backoffBase time.Duration, depthAlert int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &Dispatcher{st: st, sender: sender, log: log, maxAttempts: maxAttempts, backoffBase: backoffBase, depthAlert: depthAlert, batchSize: 50}
}

// PollOnce consumes one page of due events and returns how many it
// processed, so the caller's loop can detect an empty page.
func (d *Dispatcher) PollOnce(ctx context.Context, now int64) (int, error) {
	events, err := d.st.ListPendingOutbox(ctx, d.batchSize, now)
	if err != nil {
		return 0, err
	}

	for _, ev := range events {
		d.dispatchOne(ctx, ev, now)
	}

	if d.depthAlert > 0 {
		if backlog, err := d.st.CountOutboxBacklog(ctx); err == nil {
			metrics.OutboxDepth.WithLabelValues("backlog").Set(float64(backlog))
			if backlog >= d.depthAlert {
				d.log.WithField("backlog", backlog).Warn("interaction: outbox backlog crossed alert threshold")
			}
		}
	}

	return len(events), nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev store.OutboxEvent, now int64) {
	env, err := json.Marshal(envelope{EventID: ev.EventID, Kind: ev.Kind, Payload: ev.Payload})
	if err != nil {
		d.log.WithField("event_id", ev.EventID).WithError(err).Error("interaction: failed to render outbox envelope")
		return
	}

	sendErr := d.sender.Send(ctx, env)
	if sendErr == nil {
		if err := d.st.MarkOutboxResult(ctx, ev.EventID, true, now, now); err != nil {
			d.log.WithField("event_id", ev.EventID).WithError(err).Error("interaction: failed to mark outbox event delivered")
		}
		return
	}

	next := now + backoffDelayMillis(d.backoffBase, ev.Attempts+1)
	d.log.WithField("event_id", ev.EventID).WithField("attempt", ev.Attempts+1).WithError(sendErr).Warn("interaction: outbox dispatch failed, rescheduling")
	if err := d.st.MarkOutboxResult(ctx, ev.EventID, false, next, now); err != nil {
		d.log.WithField("event_id", ev.EventID).WithError(err).Error("interaction: failed to reschedule outbox event")
	}
}

// backoffDelayMillis computes exponential backoff with full jitter (a
// uniform draw below base·2^attempt, capped at 60s), applied here to outbox
// redelivery scheduling.
func backoffDelayMillis(base time.Duration, attempt int) int64 {
	capped := math.Min(float64(base.Milliseconds())*math.Pow(2, float64(attempt)), float64((60 * time.Second).Milliseconds()))
	return int64(rand.Float64() * capped)
}
