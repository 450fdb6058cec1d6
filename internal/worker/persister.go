// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package worker runs the persistence consumer: it drains the event queue
// into the event store.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/visitorpulse/internal/debuglog"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/queue"
	"github.com/tomtom215/visitorpulse/internal/store"
)

// Persister saves queued events. It is safe to run with several queue
// workers; the store and the deduper are both concurrency safe.
type Persister struct {
	store   store.EventStore
	emitter *debuglog.Emitter
	dedup   *queue.Deduper
}

// NewPersister creates a Persister. dedup may be nil to rely on the store's
// own idempotency alone.
func NewPersister(s store.EventStore, emitter *debuglog.Emitter, dedup *queue.Deduper) *Persister {
	return &Persister{store: s, emitter: emitter, dedup: dedup}
}

// Handler returns the queue handler, wrapped with the deduper when set.
func (p *Persister) Handler() queue.Handler {
	if p.dedup == nil {
		return p.Handle
	}
	return p.dedup.Wrap(p.Handle)
}

// Handle persists one message. An undecodable payload is a permanent
// failure; store errors are retried by the queue.
func (p *Persister) Handle(ctx context.Context, msg models.QueueMessage) error {
	ctx = logging.ContextWithProjectID(ctx, msg.ProjectID)
	entry := debuglog.Entry{EventID: msg.ID, ProjectID: msg.ProjectID}

	ev, err := msg.Event()
	if err != nil {
		p.emitter.Error(ctx, models.StageWorker, "Queue message could not be decoded", withError(entry, err))
		return queue.Permanent(err)
	}
	if ev.ID != msg.ID || ev.ProjectID != msg.ProjectID {
		err := errors.New("envelope does not match payload")
		p.emitter.Error(ctx, models.StageWorker, "Queue message envelope mismatch", withError(entry, err))
		return queue.Permanent(err)
	}

	if err := p.store.SaveEvent(ctx, ev); err != nil {
		p.emitter.Warn(ctx, models.StageWorker, "Event persistence failed, will retry", withError(entry, err))
		return err
	}

	entry.Data = map[string]interface{}{
		"type":       string(ev.Type),
		"session_id": ev.SessionID,
		"latency_ms": time.Since(msg.EnqueuedAt).Milliseconds(),
	}
	p.emitter.Info(ctx, models.StageWorker, "Event persisted", entry)
	return nil
}

// Run consumes q until ctx is cancelled.
func (p *Persister) Run(ctx context.Context, q queue.Queue) error {
	logging.Info().Msg("Persistence worker started")
	err := q.Consume(ctx, p.Handler())
	logging.Info().Err(err).Msg("Persistence worker stopped")
	return err
}

func withError(e debuglog.Entry, err error) debuglog.Entry {
	e.Data = map[string]interface{}{"error": err.Error()}
	return e
}
