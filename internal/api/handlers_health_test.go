// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/models"
)

func TestHealth(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	w := f.get(t, h, "", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthStatus
	decodeBody(t, w, &resp)
	if resp.Status != StatusHealthy {
		t.Errorf("Expected status healthy, got %s", resp.Status)
	}
	if resp.Broker != "memory" {
		t.Errorf("Expected broker memory, got %s", resp.Broker)
	}
	if resp.Queue == nil {
		t.Error("Expected queue stats")
	}
	if resp.Version != "test" {
		t.Errorf("Expected version test, got %s", resp.Version)
	}
}

func TestHealthRealtime(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fixture)
		status  string
		mode    string
		wantURL bool
	}{
		{
			name:    "healthy",
			mutate:  func(*fixture) {},
			status:  StatusHealthy,
			mode:    ModeRealtime,
			wantURL: true,
		},
		{
			name:   "disabled",
			mutate: func(f *fixture) { f.cfg.Realtime.Enabled = false },
			status: StatusDisabled,
			mode:   ModePolling,
		},
		{
			name:   "server unreachable",
			mutate: func(f *fixture) { f.deps.Realtime = fakeProbe{err: errors.New("connection refused")} },
			status: StatusDegraded,
			mode:   ModePollingFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f)
			h := f.router()

			w := f.get(t, h, "", "/health/realtime")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			var resp RealtimeHealth
			decodeBody(t, w, &resp)
			if resp.Status != tt.status {
				t.Errorf("Expected status %s, got %s", tt.status, resp.Status)
			}
			if resp.Mode != tt.mode {
				t.Errorf("Expected mode %s, got %s", tt.mode, resp.Mode)
			}
			if tt.wantURL && resp.URL != f.cfg.Realtime.PublicURL {
				t.Errorf("Expected url %s, got %s", f.cfg.Realtime.PublicURL, resp.URL)
			}
		})
	}
}

// flakyTransport fails every publish so the breaker opens.
type flakyTransport struct{ *broker.MemoryTransport }

func (flakyTransport) Publish(context.Context, string, []byte) error {
	return errors.New("transport down")
}

func TestHealthRealtimeDegradedWhenBreakerOpen(t *testing.T) {
	f := newFixture(t)
	b := broker.New(flakyTransport{broker.NewMemoryTransport()}, broker.WithCircuitBreaker(config.CircuitBreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 1,
	}))
	t.Cleanup(func() { _ = b.Close() })
	f.deps.Broker = b
	h := f.router()

	for i := 0; i < 3; i++ {
		_ = b.Publish(context.Background(), "visitor-live", models.BrokerEvent{Type: "pageview", ProjectID: "p1"})
	}
	if b.Healthy() {
		t.Fatal("Expected the breaker to be open")
	}

	w := f.get(t, h, "", "/health/realtime")
	var resp RealtimeHealth
	decodeBody(t, w, &resp)
	if resp.Status != StatusDegraded || resp.Mode != ModePollingFallback {
		t.Errorf("Expected degraded/polling-fallback, got %s/%s", resp.Status, resp.Mode)
	}

	w = f.get(t, h, "", "/health")
	var health HealthStatus
	decodeBody(t, w, &health)
	if health.Status != StatusDegraded {
		t.Errorf("Expected /health degraded with an open breaker, got %s", health.Status)
	}
}

func TestHTTPRealtimeProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected probe path /health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(up.URL, "http://"))
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	p, _ := strconv.Atoi(port)

	probe := NewRealtimeProbe(config.RealtimeConfig{Host: host, Port: p})
	if err := probe.Check(context.Background()); err != nil {
		t.Errorf("Expected healthy probe, got %v", err)
	}

	draining := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer draining.Close()
	_, port, _ = net.SplitHostPort(strings.TrimPrefix(draining.URL, "http://"))
	p, _ = strconv.Atoi(port)

	probe = NewRealtimeProbe(config.RealtimeConfig{Host: "0.0.0.0", Port: p})
	if err := probe.Check(context.Background()); err == nil {
		t.Error("Expected an error for a 503 realtime health")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	f.track(t, h, f.token, `{"sessionId":"s1","projectId":"p1"}`)

	w := f.get(t, h, "", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ingest_events_accepted_total") {
		t.Error("Expected ingest_events_accepted_total in metrics output")
	}
}
