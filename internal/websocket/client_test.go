// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/models"
)

func newTestServer(t *testing.T, origins ...string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := setupHub(t)
	srv := httptest.NewServer(NewHandler(hub, ClientOptions{}, origins))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return f
}

func errorMessage(t *testing.T, f frame) string {
	t.Helper()
	if f.Event != EventError {
		t.Fatalf("Expected error frame, got %s", f.Event)
	}
	var d errorData
	if err := json.Unmarshal(f.Data, &d); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	return d.Message
}

func TestClientJoinReceivesLiveEvents(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, nil)

	send(t, conn, ClientMessage{Event: EventJoinProject, ProjectID: "acme"})
	if f := read(t, conn); f.Event != EventJoined {
		t.Fatalf("Expected %s, got %s", EventJoined, f.Event)
	}
	if hub.RoomSize("acme") != 1 {
		t.Fatalf("Expected room size 1, got %d", hub.RoomSize("acme"))
	}

	hub.BroadcastEvent(liveEvent("acme"))
	f := read(t, conn)
	if f.Event != string(models.LiveSessionAdded) {
		t.Errorf("Expected %s, got %s", models.LiveSessionAdded, f.Event)
	}
	if string(f.Data) != `{"sessionId":"s1"}` {
		t.Errorf("Expected data passed through, got %s", f.Data)
	}
}

func TestClientLeaveAndDisconnectEmptyRoom(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, nil)

	send(t, conn, ClientMessage{Event: EventJoinProject, ProjectID: "acme"})
	read(t, conn)
	send(t, conn, ClientMessage{Event: EventLeaveProject, ProjectID: "acme"})
	if f := read(t, conn); f.Event != EventLeft {
		t.Fatalf("Expected %s, got %s", EventLeft, f.Event)
	}
	if hub.RoomCount() != 0 {
		t.Errorf("Expected no rooms after leave, got %v", hub.Rooms())
	}

	send(t, conn, ClientMessage{Event: EventJoinProject, ProjectID: "acme"})
	read(t, conn)
	_ = conn.Close()
	waitFor(t, func() bool { return hub.GetClientCount() == 0 })
	if hub.RoomCount() != 0 {
		t.Errorf("Expected no rooms after disconnect, got %v", hub.Rooms())
	}
}

func TestClientInvalidMessages(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, nil)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"malformed json", `{"event":`, "malformed message"},
		{"unknown event", `{"event":"subscribe","projectId":"acme"}`, "event must be one of"},
		{"missing project", `{"event":"join_project"}`, "projectId is required"},
		{"bad project id", `{"event":"join_project","projectId":"a b"}`, "projectId must be"},
		{"leave without join", `{"event":"leave_project","projectId":"acme"}`, "not a member"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			msg := errorMessage(t, read(t, conn))
			if !strings.Contains(msg, tt.want) {
				t.Errorf("Expected message containing %q, got %q", tt.want, msg)
			}
		})
	}

	// the connection survives invalid input
	send(t, conn, ClientMessage{Event: EventPing})
	if f := read(t, conn); f.Event != EventPong {
		t.Errorf("Expected pong, got %s", f.Event)
	}
	if hub.RoomCount() != 0 {
		t.Errorf("Expected no rooms, got %v", hub.Rooms())
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	_, srv := newTestServer(t, "https://app.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected dial to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	header.Set("Origin", "https://app.example.com")
	dial(t, srv, header)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://any.example", true},
		{[]string{"*"}, "https://any.example", true},
		{[]string{"https://a.example/"}, "https://a.example", true},
		{[]string{"https://a.example"}, "HTTPS://A.EXAMPLE", true},
		{[]string{"https://a.example"}, "https://b.example", false},
		{[]string{"https://a.example"}, "", true},
		{[]string{"https://a.example"}, "not a url", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := originChecker(tt.allowed)(r); got != tt.want {
			t.Errorf("allowed %v origin %q: Expected %v, got %v", tt.allowed, tt.origin, tt.want, got)
		}
	}
}

func TestRelayForwardsBrokerEvents(t *testing.T) {
	hub, srv := newTestServer(t)
	ps := broker.New(broker.NewMemoryTransport())
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := NewRelay(hub, ps, "live").Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	conn := dial(t, srv, nil)
	send(t, conn, ClientMessage{Event: EventJoinProject, ProjectID: "acme"})
	read(t, conn)

	ev := liveEvent("acme")
	ev.Type = string(models.LivePageview)
	if err := ps.Publish(ctx, "live", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if f := read(t, conn); f.Event != string(models.LivePageview) {
		t.Errorf("Expected %s, got %s", models.LivePageview, f.Event)
	}
}
