// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/queue"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*WebSocketHubService)(nil)
	_ suture.Service = (*QueueWorkerService)(nil)
	_ suture.Service = (*SubscriptionService)(nil)
)

// mockHTTPServer is a test double for HTTPServer.
type mockHTTPServer struct {
	listenErr     error
	shutdownErr   error
	listenCount   atomic.Int32
	shutdownCount atomic.Int32
	started       chan struct{}
	stopCh        chan struct{}
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.listenCount.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdownCount.Add(1)
	close(m.stopCh)
	return m.shutdownErr
}

func serveAsync(ctx context.Context, svc suture.Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	return nil
}

func TestNewHTTPServerServiceDefaults(t *testing.T) {
	svc := NewHTTPServerService("", newMockHTTPServer(), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", svc.shutdownTimeout)
	}
	if svc.String() != "http-server" {
		t.Errorf("Expected name http-server, got %q", svc.String())
	}
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	var hookCalls atomic.Int32
	svc := NewHTTPServerService("realtime-http", server, time.Second).
		BeforeShutdown(func() { hookCalls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, svc)
	<-server.started
	cancel()

	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if server.shutdownCount.Load() != 1 {
		t.Errorf("Expected 1 Shutdown call, got %d", server.shutdownCount.Load())
	}
	if hookCalls.Load() != 1 {
		t.Errorf("Expected BeforeShutdown hook once, got %d", hookCalls.Load())
	}
}

func TestHTTPServerServiceErrors(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	server := newMockHTTPServer()
	server.listenErr = bindErr
	if err := NewHTTPServerService("api", server, time.Second).Serve(context.Background()); !errors.Is(err, bindErr) {
		t.Errorf("Expected %v, got %v", bindErr, err)
	}

	shutdownErr := errors.New("shutdown timeout")
	server = newMockHTTPServer()
	server.shutdownErr = shutdownErr
	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, NewHTTPServerService("api", server, time.Second))
	<-server.started
	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, shutdownErr) {
		t.Errorf("Expected %v, got %v", shutdownErr, err)
	}
}

type mockHub struct {
	runErr error
	runs   atomic.Int32
}

func (m *mockHub) RunWithContext(ctx context.Context) error {
	m.runs.Add(1)
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubService(t *testing.T) {
	hub := &mockHub{}
	svc := NewWebSocketHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("Expected name websocket-hub, got %q", svc.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}

	hubErr := errors.New("hub failed")
	if err := NewWebSocketHubService(&mockHub{runErr: hubErr}).Serve(context.Background()); !errors.Is(err, hubErr) {
		t.Errorf("Expected %v, got %v", hubErr, err)
	}
}

type mockWorker struct {
	err  error
	runs atomic.Int32
}

func (m *mockWorker) Run(ctx context.Context, _ queue.Queue) error {
	m.runs.Add(1)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestQueueWorkerService(t *testing.T) {
	w := &mockWorker{}
	svc := NewQueueWorkerService("", w, nil)
	if svc.String() != "queue-worker" {
		t.Errorf("Expected name queue-worker, got %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, svc)
	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	consumeErr := errors.New("consumer lost")
	err := NewQueueWorkerService("persister", &mockWorker{err: consumeErr}, nil).Serve(context.Background())
	if !errors.Is(err, consumeErr) {
		t.Errorf("Expected %v, got %v", consumeErr, err)
	}
}

func TestQueueWorkerServiceRestartedBySupervisor(t *testing.T) {
	w := &mockWorker{err: errors.New("boom")}
	sup := suture.New("test", suture.Spec{FailureThreshold: 10, FailureBackoff: 10 * time.Millisecond, Timeout: time.Second})
	sup.Add(NewQueueWorkerService("persister", w, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for w.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if w.runs.Load() < 2 {
		t.Errorf("Expected worker restarted, got %d runs", w.runs.Load())
	}
}

type mockStarter struct {
	err error
	sub *mockSubscription
}

type mockSubscription struct {
	unsubscribed atomic.Int32
}

func (m *mockSubscription) Unsubscribe() error {
	m.unsubscribed.Add(1)
	return nil
}

func (m *mockStarter) Start(context.Context) (broker.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sub, nil
}

func TestSubscriptionService(t *testing.T) {
	starter := &mockStarter{sub: &mockSubscription{}}
	svc := NewSubscriptionService("live-relay", starter)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, svc)
	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if starter.sub.unsubscribed.Load() != 1 {
		t.Errorf("Expected one Unsubscribe, got %d", starter.sub.unsubscribed.Load())
	}

	startErr := errors.New("subscribe refused")
	if err := NewSubscriptionService("", &mockStarter{err: startErr}).Serve(context.Background()); !errors.Is(err, startErr) {
		t.Errorf("Expected %v, got %v", startErr, err)
	}
}

func TestSubscriptionServiceWithMemoryBroker(t *testing.T) {
	ps := broker.New(broker.NewMemoryTransport())
	defer func() { _ = ps.Close() }()

	received := make(chan models.BrokerEvent, 1)
	starter := starterFunc(func(ctx context.Context) (broker.Subscription, error) {
		return ps.Subscribe(ctx, "live", func(_ context.Context, ev models.BrokerEvent) {
			received <- ev
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, NewSubscriptionService("live", starter))

	deadline := time.Now().Add(2 * time.Second)
	for ps.Subscribers("live") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := ps.Publish(context.Background(), "live", models.BrokerEvent{Type: "pageview", ProjectID: "p1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-received:
		if ev.ProjectID != "p1" {
			t.Errorf("Expected project p1, got %s", ev.ProjectID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	waitErr(t, errCh)
	deadline = time.Now().Add(2 * time.Second)
	for ps.Subscribers("live") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := ps.Subscribers("live"); n != 0 {
		t.Errorf("Expected subscription removed, got %d", n)
	}
}

type starterFunc func(ctx context.Context) (broker.Subscription, error)

func (f starterFunc) Start(ctx context.Context) (broker.Subscription, error) { return f(ctx) }
