// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
)

func startEmbeddedNATS(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := NewEmbeddedServer(EmbeddedServerConfig{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestEmbeddedServer(t *testing.T) {
	srv := startEmbeddedNATS(t)
	if !srv.IsRunning() {
		t.Error("Server should be running")
	}
	if srv.ClientURL() == "" {
		t.Error("ClientURL should not be empty")
	}
	if srv.JetStreamEnabled() {
		t.Error("JetStream was not requested")
	}
}

func TestNATSTransport_CrossProcessFanOut(t *testing.T) {
	srv := startEmbeddedNATS(t)
	ctx := context.Background()

	// Two brokers stand in for two fan-out instances sharing one NATS server.
	newBroker := func() *PubSub {
		tr, err := NewNATSTransport(srv.ClientURL())
		if err != nil {
			t.Fatalf("NewNATSTransport: %v", err)
		}
		ps := New(tr)
		t.Cleanup(func() { _ = ps.Close() })
		return ps
	}
	publisher, instanceA, instanceB := newBroker(), newBroker(), newBroker()

	a, b := &collector{}, &collector{}
	if _, err := instanceA.Subscribe(ctx, "visitor-live", a.handle); err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	if _, err := instanceB.Subscribe(ctx, "visitor-live", b.handle); err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}
	// core NATS subscriptions are registered asynchronously
	time.Sleep(100 * time.Millisecond)

	ev := models.BrokerEvent{Type: "session_added", ProjectID: "p1", EventID: "evt_1"}
	if err := publisher.Publish(ctx, "visitor-live", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return a.len() == 1 && b.len() == 1 })
	if got := a.snapshot()[0]; got.EventID != "evt_1" || got.ProjectID != "p1" {
		t.Errorf("Unexpected event on instance A: %+v", got)
	}
}
