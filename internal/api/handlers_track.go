// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/auth"
	"github.com/tomtom215/visitorpulse/internal/debuglog"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/queue"
	"github.com/tomtom215/visitorpulse/internal/validation"
)

// trackRequest is the tracker SDK body. Trackers that predate the payload
// envelope send the type-specific fields at the top level, so a missing
// payload falls back to the whole body.
type trackRequest struct {
	SessionID  string          `json:"sessionId" validate:"required,projectid"`
	ProjectID  string          `json:"projectId" validate:"required,projectid"`
	Type       string          `json:"type,omitempty" validate:"omitempty,eventtype"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// TrackEvent handles POST /track-event.
//
// Responses:
//   - 200 {success, eventId} once the event is durably queued
//   - 400 for a malformed body or failed validation
//   - 401 for a missing, invalid, expired, revoked or foreign token
//   - 404 for an unknown or disabled project
//   - 500 {message, error} when the queue rejects the push
//
// The live broker publish is best effort and never changes the status.
func (h *Handler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, "validation", "Request body too large")
			return
		}
		h.reject(w, http.StatusBadRequest, "validation", "Failed to read request body")
		return
	}

	var req trackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(w, http.StatusBadRequest, "validation", ErrInvalidBody.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		h.reject(w, http.StatusBadRequest, "validation", verr.ToAPIError().Message)
		return
	}

	eventType := models.EventType(req.Type)
	if eventType == "" {
		eventType = models.DefaultEventType
	}
	raw := req.Payload
	if len(raw) == 0 {
		raw = body
	}
	payload, err := models.DecodePayload(eventType, raw)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "validation", "Invalid "+string(eventType)+" payload")
		return
	}
	if verr := validation.ValidateStruct(payload); verr != nil {
		h.reject(w, http.StatusBadRequest, "validation", verr.ToAPIError().Message)
		return
	}

	ctx = logging.ContextWithProjectID(ctx, req.ProjectID)

	principal, err := h.validator.Validate(ctx, auth.ExtractBearer(r.Header.Get("Authorization")), req.ProjectID)
	switch {
	case err == nil:
	case auth.IsNotFound(err):
		h.reject(w, http.StatusNotFound, "not_found", "Project not found")
		return
	case auth.IsUnauthorized(err):
		h.emitter.Error(ctx, models.StageIngestion, "Unauthorized event rejected", debuglog.Entry{
			ProjectID: req.ProjectID,
			Data:      map[string]interface{}{"reason": err.Error(), "sessionId": req.SessionID},
		})
		h.reject(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("Token validation failed")
		metrics.IngestRejected.WithLabelValues("internal").Inc()
		respondInternal(w, "Failed to validate token", err)
		return
	}

	now := h.now().UTC()
	occurredAt := now
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC()
	}
	ev := &models.Event{
		ID:         models.NewEventID(),
		Type:       eventType,
		ProjectID:  req.ProjectID,
		SessionID:  req.SessionID,
		OccurredAt: occurredAt,
		ReceivedAt: now,
		Visitor:    h.enricher.Visitor(r.UserAgent(), clientIP(r)),
		Data:       payload,
	}

	entry := debuglog.Entry{EventID: ev.ID, ProjectID: ev.ProjectID}
	h.emitter.Info(ctx, models.StageIngestion, "Event received", debuglog.Entry{
		EventID:   ev.ID,
		ProjectID: ev.ProjectID,
		Data: map[string]interface{}{
			"type":      string(ev.Type),
			"sessionId": ev.SessionID,
			"tokenId":   principal.Token.ID,
		},
	})

	msg, err := models.NewQueueMessage(ev)
	if err != nil {
		metrics.IngestRejected.WithLabelValues("internal").Inc()
		respondInternal(w, "Failed to encode event", err)
		return
	}
	if err := h.queue.Push(ctx, msg); err != nil && !errors.Is(err, queue.ErrDuplicate) {
		h.emitter.Error(ctx, models.StageQueue, "Queue push failed", debuglog.Entry{
			EventID:   ev.ID,
			ProjectID: ev.ProjectID,
			Data:      map[string]interface{}{"error": err.Error()},
		})
		metrics.IngestRejected.WithLabelValues("queue").Inc()
		respondInternal(w, "Failed to queue event", err)
		return
	}
	h.emitter.Info(ctx, models.StageQueue, "Event queued", entry)

	h.publishLive(ctx, ev)

	metrics.IngestAccepted.WithLabelValues(string(ev.Type)).Inc()
	respondJSON(w, http.StatusOK, TrackResponse{Success: true, EventID: ev.ID})
}

// publishLive sends the live BrokerEvent. Failures degrade the live path
// only; the event is already durable.
func (h *Handler) publishLive(ctx context.Context, ev *models.Event) {
	entry := debuglog.Entry{EventID: ev.ID, ProjectID: ev.ProjectID}

	live, err := models.NewLiveEvent(ev)
	if err == nil {
		err = h.broker.Publish(ctx, h.liveChannel, live)
	}
	if err != nil {
		metrics.IngestLivePublishFailures.Inc()
		entry.Data = map[string]interface{}{"error": err.Error()}
		h.emitter.Warn(ctx, models.StageBroker, "Live publish failed", entry)
		return
	}
	h.emitter.Info(ctx, models.StageBroker, "Live event published", entry)
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason, message string) {
	metrics.IngestRejected.WithLabelValues(reason).Inc()
	respondError(w, status, message)
}

func (h *Handler) maxBodyBytes() int64 {
	if h.cfg.Server.MaxBodyBytes > 0 {
		return h.cfg.Server.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}
