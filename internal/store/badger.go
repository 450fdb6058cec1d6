// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const backendBadger = "badger"

// Key prefixes for BadgerDB storage.
const (
	prefixEvent   = "event:"    // event:<project>:<unix nanos>:<id> -> Event
	prefixEventID = "event_id:" // event_id:<id> -> event key
	prefixSession = "session:"  // session:<project>:<session> -> SessionSummary

	maxConflictRetries = 3
)

// BadgerStore is the embedded event store. Events expire after the
// configured retention; session summaries live as long as their last event.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
	closed    atomic.Bool
}

// OpenBadger opens (or creates) the store at cfg.Path.
func OpenBadger(cfg config.StoreConfig) (*BadgerStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("event store path is required")
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	return openBadger(opts, cfg.Retention)
}

// OpenBadgerInMemory opens a non-persistent store. Intended for tests.
func OpenBadgerInMemory(retention time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts, retention)
}

func openBadger(opts badger.Options, retention time.Duration) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	logging.Info().
		Str("path", opts.Dir).
		Dur("retention", retention).
		Msg("Badger event store opened")
	return &BadgerStore{db: db, retention: retention}, nil
}

func eventKey(ev *models.Event) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixEvent, ev.ProjectID, ev.OccurredAt.UnixNano(), ev.ID))
}

func eventTimeKey(projectID string, t time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:", prefixEvent, projectID, t.UnixNano()))
}

func sessionKey(projectID, sessionID string) []byte {
	return []byte(prefixSession + projectID + ":" + sessionID)
}

// SaveEvent writes the event, its id index and the updated session summary
// in one transaction. A second save of the same id is a no-op.
func (s *BadgerStore) SaveEvent(_ context.Context, ev *models.Event) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	start := time.Now()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.saveEvent(txn, ev)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		err = fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	metrics.RecordStoreWrite(backendBadger, time.Since(start), err)
	return err
}

func (s *BadgerStore) saveEvent(txn *badger.Txn, ev *models.Event) error {
	idKey := []byte(prefixEventID + ev.ID)
	if _, err := txn.Get(idKey); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := eventKey(ev)
	if err := txn.SetEntry(s.entry(key, data)); err != nil {
		return err
	}
	if err := txn.SetEntry(s.entry(idKey, key)); err != nil {
		return err
	}

	sKey := sessionKey(ev.ProjectID, ev.SessionID)
	var summary models.SessionSummary
	item, err := txn.Get(sKey)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		}); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	summary.Apply(ev)

	sData, err := json.Marshal(&summary)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return txn.SetEntry(s.entry(sKey, sData))
}

func (s *BadgerStore) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

func (s *BadgerStore) Events(_ context.Context, q EventQuery) ([]models.Event, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	q.normalize()

	prefix := []byte(prefixEvent + q.ProjectID + ":")
	end := eventTimeKey(q.ProjectID, q.To)
	events := make([]models.Event, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(eventTimeKey(q.ProjectID, q.From)); it.ValidForPrefix(prefix); it.Next() {
			if bytes.Compare(it.Item().Key(), end) >= 0 || len(events) >= q.Limit {
				break
			}
			var ev models.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendBadger, "events").Inc()
		return nil, err
	}
	return events, nil
}

func (s *BadgerStore) Session(_ context.Context, projectID, sessionID string) (*models.SessionSummary, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var summary models.SessionSummary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(projectID, sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendBadger, "session").Inc()
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &summary, nil
}

func (s *BadgerStore) LiveSessions(_ context.Context, projectID string, since time.Time) ([]models.SessionSummary, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	sessions := make([]models.SessionSummary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSession + projectID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var summary models.SessionSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &summary)
			}); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			if !summary.LastSeenAt.Before(since) {
				sessions = append(sessions, summary)
			}
		}
		return nil
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendBadger, "live_sessions").Inc()
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSeenAt.After(sessions[j].LastSeenAt)
	})
	return sessions, nil
}

func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
