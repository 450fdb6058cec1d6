// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type collector struct {
	mu     sync.Mutex
	events []models.BrokerEvent
}

func (c *collector) handle(_ context.Context, ev models.BrokerEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) snapshot() []models.BrokerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.BrokerEvent(nil), c.events...)
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
	t.Fatal("Condition not met before timeout")
}

func newMemoryBroker(t *testing.T) *PubSub {
	t.Helper()
	ps := New(NewMemoryTransport())
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestPubSub_PublishWithoutSubscribers(t *testing.T) {
	ps := newMemoryBroker(t)
	err := ps.Publish(context.Background(), "visitor-live", models.BrokerEvent{Type: "session_added", ProjectID: "p1"})
	if err != nil {
		t.Errorf("Publish without subscribers should be a no-op, got %v", err)
	}
}

func TestPubSub_FanOutToAllSubscribers(t *testing.T) {
	ps := newMemoryBroker(t)
	ctx := context.Background()

	a, b := &collector{}, &collector{}
	if _, err := ps.Subscribe(ctx, "visitor-live", a.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := ps.Subscribe(ctx, "visitor-live", b.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	other := &collector{}
	if _, err := ps.Subscribe(ctx, "debug-logs", other.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ev := models.BrokerEvent{Type: "session_added", ProjectID: "p1", Data: []byte(`{"sessionId":"s1"}`)}
	if err := ps.Publish(ctx, "visitor-live", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return a.len() == 1 && b.len() == 1 })
	if got := a.snapshot()[0]; got.Type != "session_added" || string(got.Data) != `{"sessionId":"s1"}` {
		t.Errorf("Unexpected event %+v", got)
	}
	if got := a.snapshot()[0]; got.PublishedAt.IsZero() {
		t.Error("PublishedAt should be stamped on publish")
	}
	time.Sleep(20 * time.Millisecond)
	if other.len() != 0 {
		t.Errorf("Subscriber on another channel received %d events", other.len())
	}
}

func TestPubSub_PreservesPublishOrder(t *testing.T) {
	ps := newMemoryBroker(t)
	ctx := context.Background()
	c := &collector{}
	if _, err := ps.Subscribe(ctx, "visitor-live", c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview", EventID: fmt.Sprintf("evt_%03d", i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return c.len() == 100 })
	for i, ev := range c.snapshot() {
		if want := fmt.Sprintf("evt_%03d", i); ev.EventID != want {
			t.Fatalf("Position %d: expected %s, got %s", i, want, ev.EventID)
		}
	}
}

func TestPubSub_UnsubscribeIsIdempotent(t *testing.T) {
	ps := newMemoryBroker(t)
	ctx := context.Background()
	c := &collector{}
	sub, err := ps.Subscribe(ctx, "visitor-live", c.handle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ps.Subscribers("visitor-live") != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", ps.Subscribers("visitor-live"))
	}

	for i := 0; i < 3; i++ {
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("Unsubscribe #%d returned %v", i+1, err)
		}
	}
	if ps.Subscribers("visitor-live") != 0 {
		t.Errorf("Expected 0 subscribers, got %d", ps.Subscribers("visitor-live"))
	}

	_ = ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"})
	time.Sleep(20 * time.Millisecond)
	if c.len() != 0 {
		t.Errorf("Unsubscribed handler received %d events", c.len())
	}
}

func TestPubSub_ContextCancelUnsubscribes(t *testing.T) {
	ps := newMemoryBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := ps.Subscribe(ctx, "debug-logs", func(context.Context, models.BrokerEvent) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	waitFor(t, time.Second, func() bool { return ps.Subscribers("debug-logs") == 0 })
}

func TestPubSub_MalformedPayloadIsSkipped(t *testing.T) {
	transport := NewMemoryTransport()
	ps := New(transport)
	defer ps.Close()
	ctx := context.Background()

	c := &collector{}
	if _, err := ps.Subscribe(ctx, "debug-logs", c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	before := testutil.ToFloat64(metrics.BrokerMalformed.WithLabelValues("debug-logs"))
	if err := transport.Publish(ctx, "debug-logs", []byte("{not json")); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := ps.Publish(ctx, "debug-logs", models.BrokerEvent{Type: "debug.info"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return c.len() == 1 })
	if got := testutil.ToFloat64(metrics.BrokerMalformed.WithLabelValues("debug-logs")) - before; got != 1 {
		t.Errorf("Expected 1 malformed payload counted, got %v", got)
	}
}

func TestPubSub_HandlerPanicKeepsSubscription(t *testing.T) {
	ps := newMemoryBroker(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	_, err := ps.Subscribe(ctx, "visitor-live", func(context.Context, models.BrokerEvent) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	_ = ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"})
	_ = ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestPubSub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	ps := New(NewMemoryTransport(), WithSubscriberBuffer(1))
	defer ps.Close()
	ctx := context.Background()

	release := make(chan struct{})
	if _, err := ps.Subscribe(ctx, "visitor-live", func(context.Context, models.BrokerEvent) { <-release }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	fast := &collector{}
	if _, err := ps.Subscribe(ctx, "visitor-live", fast.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 10; i++ {
		_ = ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"})
		// let the fast handler drain its single-slot buffer
		waitFor(t, time.Second, func() bool { return fast.len() == i+1 })
	}
	close(release)
}

func TestPubSub_ClosedBroker(t *testing.T) {
	ps := New(NewMemoryTransport())
	if err := ps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if err := ps.Publish(context.Background(), "x", models.BrokerEvent{}); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("Expected ErrBrokerClosed, got %v", err)
	}
	if _, err := ps.Subscribe(context.Background(), "x", func(context.Context, models.BrokerEvent) {}); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("Expected ErrBrokerClosed, got %v", err)
	}
}

// failingTransport fails every publish.
type failingTransport struct {
	*MemoryTransport
}

func (failingTransport) Publish(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestPubSub_CircuitBreakerOpens(t *testing.T) {
	ps := New(failingTransport{NewMemoryTransport()}, WithCircuitBreaker(config.CircuitBreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
	}))
	defer ps.Close()
	ctx := context.Background()

	if ps.BreakerState() != "closed" || !ps.Healthy() {
		t.Fatalf("Expected closed breaker, got %s", ps.BreakerState())
	}
	for i := 0; i < 3; i++ {
		err := ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"})
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("Publish #%d: expected a transport error, got %v", i+1, err)
		}
	}
	if ps.BreakerState() != "open" || ps.Healthy() {
		t.Errorf("Expected open breaker, got %s", ps.BreakerState())
	}

	rejected := metrics.BrokerPublished.WithLabelValues("visitor-live", "rejected")
	before := testutil.ToFloat64(rejected)
	if err := ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "pageview"}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if got := testutil.ToFloat64(rejected) - before; got != 1 {
		t.Errorf("Expected 1 rejected publish, got %v", got)
	}
}

func TestPubSub_BreakerDisabled(t *testing.T) {
	ps := New(NewMemoryTransport(), WithCircuitBreaker(config.CircuitBreakerConfig{Enabled: false}))
	defer ps.Close()
	if ps.BreakerState() != "disabled" || !ps.Healthy() {
		t.Errorf("Expected disabled breaker to be healthy, got %s", ps.BreakerState())
	}
}
