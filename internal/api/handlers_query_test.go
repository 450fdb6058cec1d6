// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
)

func (f *fixture) seed(t *testing.T, events ...*models.Event) {
	t.Helper()
	for _, ev := range events {
		if err := f.store.SaveEvent(context.Background(), ev); err != nil {
			t.Fatalf("SaveEvent %s: %v", ev.ID, err)
		}
	}
}

func (f *fixture) get(t *testing.T, h http.Handler, token, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seededEvents(now time.Time) []*models.Event {
	return []*models.Event{
		{ID: "evt_old", Type: models.EventSessionStart, ProjectID: "p1", SessionID: "s-old",
			OccurredAt: now.Add(-10 * time.Minute), Data: models.SessionStartPayload{EntryPage: "/"}},
		{ID: "evt_new", Type: models.EventPageview, ProjectID: "p1", SessionID: "s-new",
			OccurredAt: now.Add(-time.Minute), Data: models.PageviewPayload{Path: "/docs"}},
		{ID: "evt_foreign", Type: models.EventPageview, ProjectID: "p2", SessionID: "s-p2",
			OccurredAt: now.Add(-time.Minute), Data: models.PageviewPayload{Path: "/"}},
	}
}

func TestLiveSessionsDefaultWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, seededEvents(time.Now().UTC())...)
	h := f.router()

	w := f.get(t, h, f.token, "/api/projects/p1/live-sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp LiveSessionsResponse
	decodeBody(t, w, &resp)
	if len(resp.Sessions) != 1 {
		t.Fatalf("Expected 1 live session in the default window, got %d", len(resp.Sessions))
	}
	if resp.Sessions[0].SessionID != "s-new" {
		t.Errorf("Expected session s-new, got %s", resp.Sessions[0].SessionID)
	}
	if resp.Sessions[0].CurrentPage != "/docs" {
		t.Errorf("Expected current page /docs, got %s", resp.Sessions[0].CurrentPage)
	}
}

func TestLiveSessionsSince(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.seed(t, seededEvents(now)...)
	h := f.router()

	since := now.Add(-time.Hour).Format(time.RFC3339)
	w := f.get(t, h, f.token, "/api/projects/p1/live-sessions?since="+since)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp LiveSessionsResponse
	decodeBody(t, w, &resp)
	if len(resp.Sessions) != 2 {
		t.Fatalf("Expected 2 sessions within the hour, got %d", len(resp.Sessions))
	}
	if resp.Sessions[0].SessionID != "s-new" {
		t.Errorf("Expected most recent session first, got %s", resp.Sessions[0].SessionID)
	}

	w = f.get(t, h, f.token, "/api/projects/p1/live-sessions?since=yesterday")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a bad since, got %d", w.Code)
	}
}

func TestEventsQuery(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.seed(t, seededEvents(now)...)
	h := f.router()

	from := now.Add(-time.Hour).Format(time.RFC3339)
	w := f.get(t, h, f.token, "/api/projects/p1/events?from="+from)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp EventsResponse
	decodeBody(t, w, &resp)
	if resp.Count != 2 {
		t.Fatalf("Expected 2 events for p1, got %d", resp.Count)
	}
	if resp.Events[0].ID != "evt_old" || resp.Events[1].ID != "evt_new" {
		t.Errorf("Expected oldest first, got %s, %s", resp.Events[0].ID, resp.Events[1].ID)
	}

	w = f.get(t, h, f.token, "/api/projects/p1/events?from="+from+"&limit=1")
	decodeBody(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("Expected limit to cap results at 1, got %d", resp.Count)
	}
}

func TestEventsQueryRejectsBadParams(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	now := time.Now().UTC()
	tests := []struct {
		name  string
		query string
	}{
		{"bad from", "from=monday"},
		{"bad to", "to=later"},
		{"reversed range", "from=" + now.Format(time.RFC3339) + "&to=" + now.Add(-time.Hour).Format(time.RFC3339)},
		{"zero limit", "limit=0"},
		{"huge limit", "limit=999999"},
		{"non-numeric limit", "limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, h, f.token, "/api/projects/p1/events?"+tt.query)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestSessionLookup(t *testing.T) {
	f := newFixture(t)
	f.seed(t, seededEvents(time.Now().UTC())...)
	h := f.router()

	w := f.get(t, h, f.token, "/api/projects/p1/sessions/s-new")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary models.SessionSummary
	decodeBody(t, w, &summary)
	if summary.PageViews != 1 {
		t.Errorf("Expected 1 page view, got %d", summary.PageViews)
	}

	w = f.get(t, h, f.token, "/api/projects/p1/sessions/missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for an absent session, got %d", w.Code)
	}
}

func TestQueryAPIAuthorization(t *testing.T) {
	f := newFixture(t)
	f.seed(t, seededEvents(time.Now().UTC())...)
	h := f.router()

	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"no token", "", "/api/projects/p1/live-sessions", http.StatusUnauthorized},
		{"other project token", f.other, "/api/projects/p1/events", http.StatusUnauthorized},
		{"cross-project session", f.other, "/api/projects/p1/sessions/s-new", http.StatusUnauthorized},
		{"invalid project id", f.token, "/api/projects/bad%20id/live-sessions", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, h, tt.token, tt.path)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestQueryAPICORS(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	req := httptest.NewRequest(http.MethodOptions, "/api/projects/p1/live-sessions", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin *, got %q", got)
	}
	if w.Code >= 400 {
		t.Errorf("Expected a successful pre-flight, got %d", w.Code)
	}
}
