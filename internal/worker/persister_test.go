// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/debuglog"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/queue"
	"github.com/tomtom215/visitorpulse/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// flakyStore fails the first n saves.
type flakyStore struct {
	store.EventStore
	failures atomic.Int32
	saves    atomic.Int32
}

func (f *flakyStore) SaveEvent(ctx context.Context, ev *models.Event) error {
	f.saves.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("store unavailable")
	}
	return f.EventStore.SaveEvent(ctx, ev)
}

type logCollector struct {
	mu   sync.Mutex
	logs []models.DebugLog
}

func (c *logCollector) handle(_ context.Context, ev models.BrokerEvent) {
	var l models.DebugLog
	if err := ev.DecodeData(&l); err != nil {
		return
	}
	c.mu.Lock()
	c.logs = append(c.logs, l)
	c.mu.Unlock()
}

func (c *logCollector) count(level models.DebugLevel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.logs {
		if l.Stage == models.StageWorker && l.Level == level {
			n++
		}
	}
	return n
}

type fixture struct {
	store   *store.BadgerStore
	emitter *debuglog.Emitter
	logs    *logCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenBadgerInMemory(0)
	if err != nil {
		t.Fatalf("OpenBadgerInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ps := broker.New(broker.NewMemoryTransport())
	t.Cleanup(func() { _ = ps.Close() })
	logs := &logCollector{}
	if _, err := ps.Subscribe(context.Background(), "debug-logs", logs.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return &fixture{store: s, emitter: debuglog.NewEmitter(ps, "debug-logs"), logs: logs}
}

func testMessage(t *testing.T, id, session string) models.QueueMessage {
	t.Helper()
	msg, err := models.NewQueueMessage(&models.Event{
		ID:         id,
		Type:       models.EventPageview,
		ProjectID:  "p1",
		SessionID:  session,
		OccurredAt: time.Now().UTC(),
		Data:       models.PageviewPayload{Path: "/"},
	})
	if err != nil {
		t.Fatalf("NewQueueMessage: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHandlePersistsEvent(t *testing.T) {
	f := newFixture(t)
	p := NewPersister(f.store, f.emitter, nil)
	ctx := context.Background()

	if err := p.Handle(ctx, testMessage(t, "evt_1", "s1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	sess, err := f.store.Session(ctx, "p1", "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.PageViews != 1 {
		t.Errorf("Expected 1 page view, got %d", sess.PageViews)
	}
	waitFor(t, time.Second, func() bool { return f.logs.count(models.DebugInfo) == 1 })
}

func TestHandleUndecodableIsPermanent(t *testing.T) {
	f := newFixture(t)
	p := NewPersister(f.store, f.emitter, nil)

	msg := models.QueueMessage{ID: "evt_bad", ProjectID: "p1", Payload: json.RawMessage(`{"type":"checkout"}`)}
	err := p.Handle(context.Background(), msg)
	if !queue.IsPermanent(err) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
	waitFor(t, time.Second, func() bool { return f.logs.count(models.DebugError) == 1 })
}

func TestHandleEnvelopeMismatchIsPermanent(t *testing.T) {
	f := newFixture(t)
	p := NewPersister(f.store, f.emitter, nil)

	msg := testMessage(t, "evt_1", "s1")
	msg.ID = "evt_other"
	if err := p.Handle(context.Background(), msg); !queue.IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestRunRetriesStoreFailures(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{EventStore: f.store}
	flaky.failures.Store(2)

	q, err := queue.OpenBadgerInMemory(config.QueueConfig{
		Workers:        2,
		PollInterval:   10 * time.Millisecond,
		LeaseDuration:  time.Second,
		MaxAttempts:    5,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		DedupTTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("OpenBadgerInMemory: %v", err)
	}
	defer q.Close()

	p := NewPersister(flaky, f.emitter, queue.NewDeduper(100, time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, q) }()

	if err := q.Push(ctx, testMessage(t, "evt_1", "s1")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, err := f.store.Session(context.Background(), "p1", "s1")
		return err == nil
	})
	if got := flaky.saves.Load(); got != 3 {
		t.Errorf("Expected 3 save attempts, got %d", got)
	}
	waitFor(t, time.Second, func() bool { return f.logs.count(models.DebugWarn) == 2 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandlerSkipsRedelivery(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{EventStore: f.store}
	p := NewPersister(flaky, f.emitter, queue.NewDeduper(100, time.Minute))
	h := p.Handler()

	msg := testMessage(t, "evt_1", "s1")
	for i := 0; i < 3; i++ {
		if err := h(context.Background(), msg); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if got := flaky.saves.Load(); got != 1 {
		t.Errorf("Expected a single save, got %d", got)
	}
}
