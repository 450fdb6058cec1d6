// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const backendBadger = "badger"

// Key prefixes for BadgerDB storage.
const (
	prefixPending = "pending:" // pending:<seq> -> entry
	prefixIndex   = "id:"      // id:<message id> -> pending key
	prefixDone    = "done:"    // done:<message id>, expires after DedupTTL
	prefixDead    = "dead:"    // dead:<message id> -> DeadLetter
	keySequence   = "meta:seq"

	defaultCloseTimeout = 30 * time.Second
)

// entry is the stored form of a pending message.
type entry struct {
	Seq           uint64              `json:"seq"`
	Message       models.QueueMessage `json:"message"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at,omitempty"`
	LastError     string              `json:"last_error,omitempty"`

	// LeaseExpiry and LeaseHolder record which consumer is processing the
	// entry. An expired lease makes the entry claimable again.
	LeaseExpiry time.Time `json:"lease_expiry,omitempty"`
	LeaseHolder string    `json:"lease_holder,omitempty"`
}

func (e *entry) leased(now time.Time) bool {
	return e.LeaseHolder != "" && now.Before(e.LeaseExpiry)
}

func pendingKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPending, seq))
}

// BadgerQueue is an embedded, durable queue on BadgerDB. Pushes are fsynced
// when SyncWrites is set. Delivery is at-least-once with per-project FIFO:
// a project's next message is not handed out until the previous one is
// acknowledged or dead-lettered.
type BadgerQueue struct {
	db     *badger.DB
	seq    *badger.Sequence
	cfg    config.QueueConfig
	holder string
	notify chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) the queue at cfg.Path.
func OpenBadger(cfg config.QueueConfig) (*BadgerQueue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil
	return openBadger(opts, cfg)
}

// OpenBadgerInMemory opens a non-persistent queue. Intended for tests.
func OpenBadgerInMemory(cfg config.QueueConfig) (*BadgerQueue, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts, cfg)
}

func openBadger(opts badger.Options, cfg config.QueueConfig) (*BadgerQueue, error) {
	applyQueueDefaults(&cfg)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}

	q := &BadgerQueue{
		db:     db,
		seq:    seq,
		cfg:    cfg,
		holder: uuid.NewString(),
		notify: make(chan struct{}, 1),
	}

	// BadgerDB holds an exclusive directory lock, so leases left in the
	// store belong to a previous process and can be dropped.
	released, err := q.releaseAllLeases()
	if err != nil {
		_ = q.Close()
		return nil, err
	}

	logging.Info().
		Str("path", opts.Dir).
		Bool("sync_writes", opts.SyncWrites).
		Int("released_leases", released).
		Msg("Badger queue opened")
	return q, nil
}

func applyQueueDefaults(cfg *config.QueueConfig) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
}

func (q *BadgerQueue) checkNotClosed() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *BadgerQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push stores msg durably. A message whose ID is still pending, or was
// acknowledged within DedupTTL, is rejected with ErrDuplicate.
func (q *BadgerQueue) Push(ctx context.Context, msg models.QueueMessage) (err error) {
	duplicate := false
	defer func() { metrics.RecordQueuePush(backendBadger, err, duplicate) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	if msg.ID == "" {
		return ErrEmptyID
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("next queue sequence: %w", err)
	}
	e := entry{Seq: n, Message: msg}
	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	key := pendingKey(n)

	err = q.db.Update(func(txn *badger.Txn) error {
		for _, k := range []string{prefixIndex + msg.ID, prefixDone + msg.ID} {
			_, getErr := txn.Get([]byte(k))
			if getErr == nil {
				return ErrDuplicate
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(prefixIndex+msg.ID), key)
	})
	if errors.Is(err, ErrDuplicate) {
		duplicate = true
		return err
	}
	if err != nil {
		return fmt.Errorf("store queue entry: %w", err)
	}

	q.wake()
	return nil
}

// Consume runs the dispatcher and Workers handler goroutines until ctx is
// cancelled. Only one Consume call per queue is supported.
func (q *BadgerQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	work := make(chan *entry, q.cfg.BatchSize)
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range work {
				q.process(ctx, h, e)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	logging.Info().
		Int("workers", q.cfg.Workers).
		Dur("poll_interval", q.cfg.PollInterval).
		Msg("Badger queue consumer started")

	for {
		if err := q.dispatch(ctx, work); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			logging.Error().Err(err).Msg("Queue dispatch failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// dispatch claims the head message of every unblocked project and hands it
// to the workers.
func (q *BadgerQueue) dispatch(ctx context.Context, work chan<- *entry) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	candidates, err := q.collectReady(ctx)
	if err != nil {
		return err
	}

	for _, e := range candidates {
		claimed, err := q.claim(e)
		if err != nil {
			return err
		}
		if claimed == nil {
			continue
		}
		metrics.QueueDelivered.WithLabelValues(backendBadger).Inc()
		select {
		case work <- claimed:
		case <-ctx.Done():
			q.release(claimed)
			return ctx.Err()
		}
	}
	return nil
}

func (q *BadgerQueue) collectReady(ctx context.Context) ([]*entry, error) {
	now := time.Now()
	blocked := make(map[string]struct{})
	var ready []*entry

	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping corrupt queue entry")
				continue
			}

			project := e.Message.ProjectID
			if _, ok := blocked[project]; ok {
				continue
			}
			// Whatever the head of a project is doing, later messages wait.
			blocked[project] = struct{}{}
			if e.leased(now) || now.Before(e.NextAttemptAt) {
				continue
			}
			ready = append(ready, &e)
			if len(ready) >= q.cfg.BatchSize {
				return nil
			}
		}
		return nil
	})
	return ready, err
}

// claim takes a lease on e. It returns nil when another claim won.
func (q *BadgerQueue) claim(e *entry) (*entry, error) {
	var claimed *entry
	err := q.db.Update(func(txn *badger.Txn) error {
		current, err := readEntry(txn, pendingKey(e.Seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.leased(time.Now()) {
			return nil
		}
		current.LeaseHolder = q.holder
		current.LeaseExpiry = time.Now().Add(q.cfg.LeaseDuration)
		if err := writeEntry(txn, current); err != nil {
			return err
		}
		claimed = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	return claimed, nil
}

func (q *BadgerQueue) process(ctx context.Context, h Handler, e *entry) {
	start := time.Now()
	err := h(ctx, e.Message)
	metrics.QueueProcessingDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if ackErr := q.ack(e); ackErr != nil {
			logging.Error().Err(ackErr).Str("id", e.Message.ID).Msg("Failed to acknowledge queue message")
		}
	case ctx.Err() != nil && !IsPermanent(err):
		// Shutting down: hand the message back without charging an attempt.
		q.release(e)
	default:
		if failErr := q.fail(e, err); failErr != nil {
			logging.Error().Err(failErr).Str("id", e.Message.ID).Msg("Failed to record queue message failure")
		}
	}
	q.wake()
}

func (q *BadgerQueue) ack(e *entry) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(pendingKey(e.Seq)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixIndex + e.Message.ID)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(prefixDone+e.Message.ID), nil).WithTTL(q.cfg.DedupTTL))
	})
	if err != nil {
		return err
	}
	metrics.QueueAcked.WithLabelValues(backendBadger).Inc()
	return nil
}

func (q *BadgerQueue) fail(e *entry, cause error) error {
	attempts := e.Attempts + 1
	if IsPermanent(cause) || attempts >= q.cfg.MaxAttempts {
		return q.deadLetter(e, attempts, cause)
	}

	delay := Backoff(q.cfg.InitialBackoff, q.cfg.MaxBackoff, attempts)
	err := q.db.Update(func(txn *badger.Txn) error {
		current, err := readEntry(txn, pendingKey(e.Seq))
		if err != nil {
			return err
		}
		current.Attempts = attempts
		current.LastError = cause.Error()
		current.NextAttemptAt = time.Now().Add(delay)
		current.LeaseHolder = ""
		current.LeaseExpiry = time.Time{}
		return writeEntry(txn, current)
	})
	if err != nil {
		return err
	}

	metrics.QueueRetries.WithLabelValues(backendBadger).Inc()
	logging.Warn().
		Err(cause).
		Str("id", e.Message.ID).
		Str("project_id", e.Message.ProjectID).
		Int("attempts", attempts).
		Dur("retry_in", delay).
		Msg("Queue message failed, scheduling retry")
	return nil
}

func (q *BadgerQueue) deadLetter(e *entry, attempts int, cause error) error {
	dl := DeadLetter{
		Message:   e.Message,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(&dl)
	if err != nil {
		return err
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(pendingKey(e.Seq)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixIndex + e.Message.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(prefixDead+e.Message.ID), data)
	})
	if err != nil {
		return err
	}

	metrics.QueueDeadLettered.WithLabelValues(backendBadger).Inc()
	logging.Error().
		Err(cause).
		Str("id", e.Message.ID).
		Str("project_id", e.Message.ProjectID).
		Int("attempts", attempts).
		Msg("Queue message moved to dead-letter store")
	return nil
}

// release drops the lease on e without touching its attempt count.
func (q *BadgerQueue) release(e *entry) {
	err := q.db.Update(func(txn *badger.Txn) error {
		current, err := readEntry(txn, pendingKey(e.Seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current.LeaseHolder = ""
		current.LeaseExpiry = time.Time{}
		return writeEntry(txn, current)
	})
	if err != nil && !errors.Is(err, badger.ErrDBClosed) {
		logging.Warn().Err(err).Str("id", e.Message.ID).Msg("Failed to release queue lease")
	}
}

func (q *BadgerQueue) releaseAllLeases() (int, error) {
	released := 0
	err := q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var stale []*entry
		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if e.LeaseHolder != "" {
				stale = append(stale, &e)
			}
		}
		for _, e := range stale {
			e.LeaseHolder = ""
			e.LeaseExpiry = time.Time{}
			if err := writeEntry(txn, e); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("release stale leases: %w", err)
	}
	return released, nil
}

// DeadLetters returns up to limit dead letters ordered by message ID.
// A limit <= 0 returns all of them.
func (q *BadgerQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if err := q.checkNotClosed(); err != nil {
		return nil, err
	}
	var out []DeadLetter
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixDead)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var dl DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dl)
			}); err != nil {
				return err
			}
			out = append(out, dl)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

// Requeue moves a dead letter back to the tail of the queue with a fresh
// attempt budget.
func (q *BadgerQueue) Requeue(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	n, err := q.seq.Next()
	if err != nil {
		return fmt.Errorf("next queue sequence: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixDead + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var dl DeadLetter
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dl)
		}); err != nil {
			return err
		}
		if err := writeEntry(txn, &entry{Seq: n, Message: dl.Message}); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixIndex+id), pendingKey(n)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixDead + id))
	})
	if err != nil {
		return err
	}

	logging.Info().Str("id", id).Msg("Dead letter requeued")
	q.wake()
	return nil
}

// Discard deletes a dead letter permanently.
func (q *BadgerQueue) Discard(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.checkNotClosed(); err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixDead + id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// Stats counts entries by state and refreshes the queue_depth gauge.
func (q *BadgerQueue) Stats() (Stats, error) {
	if err := q.checkNotClosed(); err != nil {
		return Stats{}, err
	}
	var s Stats
	now := time.Now()
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if e.leased(now) {
				s.Leased++
			} else {
				s.Pending++
			}
		}

		keyOnly := badger.DefaultIteratorOptions
		keyOnly.PrefetchValues = false
		dit := txn.NewIterator(keyOnly)
		defer dit.Close()
		dead := []byte(prefixDead)
		for dit.Seek(dead); dit.ValidForPrefix(dead); dit.Next() {
			s.Dead++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	metrics.QueueDepth.WithLabelValues("pending").Set(float64(s.Pending))
	metrics.QueueDepth.WithLabelValues("leased").Set(float64(s.Leased))
	metrics.QueueDepth.WithLabelValues("dead").Set(float64(s.Dead))
	return s, nil
}

// Close releases the sequence and closes the database, giving up after
// 30 seconds.
func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if err := q.seq.Release(); err != nil {
		logging.Warn().Err(err).Msg("Failed to release queue sequence")
	}

	done := make(chan error, 1)
	go func() {
		done <- q.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Badger queue closed")
		return nil
	case <-time.After(defaultCloseTimeout):
		return fmt.Errorf("badger queue close timeout after %v", defaultCloseTimeout)
	}
}

func readEntry(txn *badger.Txn, key []byte) (*entry, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var e entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	}); err != nil {
		return nil, err
	}
	return &e, nil
}

func writeEntry(txn *badger.Txn, e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return txn.Set(pendingKey(e.Seq), data)
}
