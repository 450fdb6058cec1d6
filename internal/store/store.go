// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/models"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("event store is closed")
)

const (
	// DefaultQueryLimit caps Events when no limit is given.
	DefaultQueryLimit = 500

	// MaxQueryLimit is the largest accepted limit.
	MaxQueryLimit = 5000
)

// EventStore is the persistence side of the pipeline. SaveEvent must be
// idempotent on event id because the queue delivers at least once.
type EventStore interface {
	// SaveEvent stores ev and folds it into its session summary.
	SaveEvent(ctx context.Context, ev *models.Event) error

	// Events returns a project's events with from <= OccurredAt < to,
	// oldest first.
	Events(ctx context.Context, q EventQuery) ([]models.Event, error)

	// Session returns one session summary or ErrNotFound.
	Session(ctx context.Context, projectID, sessionID string) (*models.SessionSummary, error)

	// LiveSessions returns sessions seen at or after since, most recent first.
	LiveSessions(ctx context.Context, projectID string, since time.Time) ([]models.SessionSummary, error)

	Close() error
}

// EventQuery selects events by project and time range.
type EventQuery struct {
	ProjectID string
	From      time.Time
	To        time.Time
	Limit     int
}

func (q *EventQuery) normalize() {
	if q.From.IsZero() {
		q.From = time.Unix(0, 0).UTC()
	}
	if q.To.IsZero() {
		q.To = time.Now().UTC().Add(time.Second)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
}

// Open opens the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (EventStore, error) {
	switch cfg.Backend {
	case "badger", "":
		return OpenBadger(cfg)
	case "clickhouse":
		return OpenClickHouse(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown event store backend %q", cfg.Backend)
	}
}
