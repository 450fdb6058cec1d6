// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/visitorpulse/internal/auth"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/store"
	"github.com/tomtom215/visitorpulse/internal/validation"
)

const defaultLiveWindow = 5 * time.Minute

// LiveSessionsResponse feeds the polling fallback of dashboard clients.
type LiveSessionsResponse struct {
	ProjectID string                  `json:"projectId"`
	Since     time.Time               `json:"since"`
	Sessions  []models.SessionSummary `json:"sessions"`
}

// EventsResponse is a page of stored events, oldest first.
type EventsResponse struct {
	ProjectID string         `json:"projectId"`
	From      time.Time      `json:"from"`
	To        time.Time      `json:"to"`
	Count     int            `json:"count"`
	Events    []models.Event `json:"events"`
}

type projectParams struct {
	ProjectID string `json:"projectId" validate:"required,projectid"`
	SessionID string `json:"sessionId" validate:"omitempty,projectid"`
}

// authorizeProject validates the URL ids and the bearer token. It writes
// the error response and returns "" when the request must stop.
func (h *Handler) authorizeProject(w http.ResponseWriter, r *http.Request) string {
	params := projectParams{
		ProjectID: chi.URLParam(r, "projectId"),
		SessionID: chi.URLParam(r, "sessionId"),
	}
	if verr := validation.ValidateStruct(&params); verr != nil {
		respondError(w, http.StatusBadRequest, verr.ToAPIError().Message)
		return ""
	}

	_, err := h.validator.Validate(r.Context(), auth.ExtractBearer(r.Header.Get("Authorization")), params.ProjectID)
	switch {
	case err == nil:
		return params.ProjectID
	case auth.IsNotFound(err):
		respondError(w, http.StatusNotFound, "Project not found")
	case auth.IsUnauthorized(err):
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token validation failed")
		respondInternal(w, "Failed to validate token", err)
	}
	return ""
}

// LiveSessions handles GET /api/projects/{projectId}/live-sessions.
// since defaults to the configured poll window.
func (h *Handler) LiveSessions(w http.ResponseWriter, r *http.Request) {
	projectID := h.authorizeProject(w, r)
	if projectID == "" {
		return
	}

	window := h.cfg.Reconcile.PollWindow
	if window <= 0 {
		window = defaultLiveWindow
	}
	since, err := parseTime(r.URL.Query().Get("since"), h.now().Add(-window))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.LiveSessions(r.Context(), projectID, since)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("project_id", projectID).Msg("Live session query failed")
		respondInternal(w, "Failed to query live sessions", err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	respondJSON(w, http.StatusOK, LiveSessionsResponse{ProjectID: projectID, Since: since.UTC(), Sessions: sessions})
}

// Events handles GET /api/projects/{projectId}/events?from&to&limit.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	projectID := h.authorizeProject(w, r)
	if projectID == "" {
		return
	}

	q := r.URL.Query()
	now := h.now()
	from, err := parseTime(q.Get("from"), now.Add(-24*time.Hour))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(q.Get("to"), now.Add(time.Second))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.Before(to) {
		respondError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	limit := store.DefaultQueryLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > store.MaxQueryLimit {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(store.MaxQueryLimit))
			return
		}
	}

	events, err := h.store.Events(r.Context(), store.EventQuery{ProjectID: projectID, From: from, To: to, Limit: limit})
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("project_id", projectID).Msg("Event query failed")
		respondInternal(w, "Failed to query events", err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	respondJSON(w, http.StatusOK, EventsResponse{
		ProjectID: projectID,
		From:      from.UTC(),
		To:        to.UTC(),
		Count:     len(events),
		Events:    events,
	})
}

// Session handles GET /api/projects/{projectId}/sessions/{sessionId}.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	projectID := h.authorizeProject(w, r)
	if projectID == "" {
		return
	}
	sessionID := chi.URLParam(r, "sessionId")

	summary, err := h.store.Session(r.Context(), projectID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("session_id", sessionID).Msg("Session lookup failed")
		respondInternal(w, "Failed to load session", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func parseTime(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ErrInvalidTime
	}
	return t, nil
}
