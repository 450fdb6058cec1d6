// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/models"
)

type offerLog struct {
	mu         sync.Mutex
	candidates []Candidate
}

func (o *offerLog) Offer(c Candidate) Outcome {
	o.mu.Lock()
	o.candidates = append(o.candidates, c)
	o.mu.Unlock()
	return OutcomeNotified
}

func (o *offerLog) all() []Candidate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Candidate(nil), o.candidates...)
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

func liveSessionsServer(t *testing.T, token string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	ended := time.Now().UTC()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/p1/live-sessions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := time.Parse(time.RFC3339, r.URL.Query().Get("since")); err != nil {
			t.Errorf("Expected an RFC 3339 since, got %q", r.URL.Query().Get("since"))
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"projectId": "p1",
			"sessions": []models.SessionSummary{
				{ProjectID: "p1", SessionID: "s-active", CurrentPage: "/docs", LastSeenAt: time.Now().UTC()},
				{ProjectID: "p1", SessionID: "s-ended", EndedAt: &ended, LastSeenAt: ended},
			},
		})
	}))
}

func TestPollerOffersActiveSessions(t *testing.T) {
	var hits atomic.Int32
	srv := liveSessionsServer(t, "tok", &hits)
	defer srv.Close()

	sink := &offerLog{}
	p := NewPoller(srv.Client(), PollerConfig{BaseURL: srv.URL + "/", ProjectID: "p1", Token: "tok"}, sink)
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("Expected 1 active candidate, got %d", len(got))
	}
	if got[0].SessionID != "s-active" || got[0].Source != SourcePoll || got[0].Page != "/docs" {
		t.Errorf("Unexpected candidate %+v", got[0])
	}
}

func TestPollerReportsHTTPErrors(t *testing.T) {
	var hits atomic.Int32
	srv := liveSessionsServer(t, "tok", &hits)
	defer srv.Close()

	p := NewPoller(srv.Client(), PollerConfig{BaseURL: srv.URL, ProjectID: "p1", Token: "wrong"}, &offerLog{})
	if err := p.Poll(context.Background()); err == nil {
		t.Error("Expected an error for a 401")
	}
}

func TestPollerServePollsRepeatedly(t *testing.T) {
	var hits atomic.Int32
	srv := liveSessionsServer(t, "tok", &hits)
	defer srv.Close()

	p := NewPoller(srv.Client(), PollerConfig{BaseURL: srv.URL, ProjectID: "p1", Token: "tok", Interval: 20 * time.Millisecond}, &offerLog{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return hits.Load() >= 3 })
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// roomServer is a minimal fan-out endpoint: it acknowledges the join, sends
// the given frames and then closes the connection.
func roomServer(t *testing.T, frames []string, dials *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var join map[string]string
		if err := json.Unmarshal(raw, &join); err != nil || join["event"] != "join_project" || join["projectId"] != "p1" {
			t.Errorf("Unexpected join frame %s", raw)
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"joined_project","data":{"projectId":"p1"}}`))
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		time.Sleep(20 * time.Millisecond)
	}))
}

func TestPushSourceOffersLiveEvents(t *testing.T) {
	var dials atomic.Int32
	srv := roomServer(t, []string{
		`{"event":"session_added","data":{"sessionId":"s1","projectId":"p1","eventType":"session_start","page":"/"}}`,
		`{"event":"session_ended","data":{"sessionId":"s0","projectId":"p1"}}`,
		`not json`,
		`{"event":"pageview","data":{"sessionId":"s2","projectId":"p1","eventType":"pageview","page":"/pricing"}}`,
	}, &dials)
	defer srv.Close()

	sink := &offerLog{}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p := NewPushSource(wsURL, "p1", 10*time.Millisecond, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return len(sink.all()) >= 2 })
	got := sink.all()
	if got[0].SessionID != "s1" || got[0].Source != SourcePush {
		t.Errorf("Unexpected first candidate %+v", got[0])
	}
	if got[1].SessionID != "s2" || got[1].Page != "/pricing" {
		t.Errorf("Unexpected second candidate %+v", got[1])
	}
	for _, c := range got {
		if c.SessionID == "s0" {
			t.Error("session_ended must not become a candidate")
		}
	}

	// The server closes after each batch; the source keeps redialing.
	waitFor(t, 2*time.Second, func() bool { return dials.Load() >= 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PushSource did not stop after cancel")
	}
}

func TestPushSourceSurvivesRefusedDial(t *testing.T) {
	p := NewPushSource("ws://127.0.0.1:1/ws", "p1", 10*time.Millisecond, &offerLog{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := p.Serve(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected the source to retry until the deadline, got %v", err)
	}
	if p.Connected() {
		t.Error("Expected Connected false without a server")
	}
}

func TestRuntimePollingOnly(t *testing.T) {
	var hits atomic.Int32
	api := liveSessionsServer(t, "tok", &hits)
	defer api.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health/realtime", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"disabled","mode":"polling"}`))
	})
	mux.Handle("/", api.Config.Handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Reconcile.PollInterval = 20 * time.Millisecond

	var notes atomic.Int32
	rt := NewRuntime(cfg, RuntimeOptions{
		BaseURL:   srv.URL,
		ProjectID: "p1",
		Token:     "tok",
		Notify:    func(Notification) { notes.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return hits.Load() >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil error on cancel, got %v", err)
	}

	if rt.Mode() != ModePolling {
		t.Errorf("Expected polling mode, got %s", rt.Mode())
	}
	if rt.PushConnected() {
		t.Error("Expected no push source in polling mode")
	}
	if notes.Load() != 1 {
		t.Errorf("Expected 1 notification across repeated polls, got %d", notes.Load())
	}
}

func TestRuntimeRealtimeModeConcurrentReads(t *testing.T) {
	var dials atomic.Int32
	room := roomServer(t, []string{
		`{"event":"session_added","data":{"sessionId":"s1","projectId":"p1","eventType":"session_start","page":"/"}}`,
	}, &dials)
	defer room.Close()
	wsURL := "ws" + strings.TrimPrefix(room.URL, "http")

	var hits atomic.Int32
	api := liveSessionsServer(t, "tok", &hits)
	defer api.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health/realtime", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","mode":"realtime","url":"` + wsURL + `"}`))
	})
	mux.Handle("/", api.Config.Handler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Reconcile.PollInterval = 20 * time.Millisecond
	cfg.Reconcile.ReconnectBackoff = 10 * time.Millisecond

	rt := NewRuntime(cfg, RuntimeOptions{BaseURL: srv.URL, ProjectID: "p1", Token: "tok"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// read state while Run is still wiring the sources
	readers := make(chan struct{})
	go func() {
		defer close(readers)
		for ctx.Err() == nil {
			_ = rt.Mode()
			_ = rt.PushConnected()
			time.Sleep(time.Millisecond)
		}
	}()

	waitFor(t, 2*time.Second, func() bool { return rt.Mode() == ModeRealtime && dials.Load() >= 1 })
	cancel()
	<-readers
	if err := <-done; err != nil {
		t.Errorf("Expected nil error on cancel, got %v", err)
	}
}

func TestProbeRealtime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","mode":"realtime","url":"ws://live.example/ws"}`))
	}))
	defer srv.Close()

	h, err := ProbeRealtime(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("ProbeRealtime: %v", err)
	}
	if h.Mode != ModeRealtime || h.URL != "ws://live.example/ws" {
		t.Errorf("Unexpected health %+v", h)
	}
}
