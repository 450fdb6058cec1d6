// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package models holds the data types shared across the VisitorPulse
// pipeline: tracked events, queue envelopes, broker events, debug logs,
// sessions and project tokens.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventIDPrefix marks every id minted by the ingestion endpoint.
const EventIDPrefix = "evt_"

// NewEventID returns a fresh event id such as evt_3f2a...
func NewEventID() string {
	return EventIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// EventType discriminates the Payload carried by an Event.
type EventType string

const (
	EventPageview      EventType = "pageview"
	EventSessionStart  EventType = "session_start"
	EventSessionUpdate EventType = "session_update"
	EventSessionEnd    EventType = "session_end"
)

// DefaultEventType is used when a tracker omits "type". The original
// tracking snippet only reported session ends.
const DefaultEventType = EventSessionEnd

// ErrUnknownEventType is returned for a type outside the EventType set.
var ErrUnknownEventType = errors.New("unknown event type")

// EventTypes lists every accepted type.
func EventTypes() []EventType {
	return []EventType{EventPageview, EventSessionStart, EventSessionUpdate, EventSessionEnd}
}

// Valid reports whether t is a known type.
func (t EventType) Valid() bool {
	switch t {
	case EventPageview, EventSessionStart, EventSessionUpdate, EventSessionEnd:
		return true
	}
	return false
}

// LiveType maps a tracked event type onto the broker event type that the
// fan-out server forwards to dashboards.
func (t EventType) LiveType() LiveEventType {
	switch t {
	case EventPageview:
		return LivePageview
	case EventSessionStart:
		return LiveSessionAdded
	case EventSessionUpdate:
		return LiveSessionUpdated
	default:
		return LiveSessionEnded
	}
}

// Payload is the sum type of type-specific event data. Each implementation
// belongs to exactly one EventType.
type Payload interface {
	EventType() EventType
}

type PageviewPayload struct {
	URL      string `json:"url,omitempty" validate:"omitempty,max=2048"`
	Path     string `json:"path,omitempty" validate:"omitempty,max=1024"`
	Title    string `json:"title,omitempty" validate:"omitempty,max=512"`
	Referrer string `json:"referrer,omitempty" validate:"omitempty,max=2048"`
}

type SessionStartPayload struct {
	EntryPage string     `json:"entryPage,omitempty" validate:"omitempty,max=1024"`
	Referrer  string     `json:"referrer,omitempty" validate:"omitempty,max=2048"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

type SessionUpdatePayload struct {
	CurrentPage string `json:"currentPage,omitempty" validate:"omitempty,max=1024"`
	PageViews   int    `json:"pageViews,omitempty" validate:"min=0"`
}

type SessionEndPayload struct {
	ExitPage   string     `json:"exitPage,omitempty" validate:"omitempty,max=1024"`
	PageViews  int        `json:"pageViews,omitempty" validate:"min=0"`
	DurationMs int64      `json:"durationMs,omitempty" validate:"min=0"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func (PageviewPayload) EventType() EventType      { return EventPageview }
func (SessionStartPayload) EventType() EventType  { return EventSessionStart }
func (SessionUpdatePayload) EventType() EventType { return EventSessionUpdate }
func (SessionEndPayload) EventType() EventType    { return EventSessionEnd }

// DecodePayload decodes raw into the payload struct selected by t. An empty
// or null raw yields the zero payload for t.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	decode := func(dst interface{}) error {
		if empty {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s payload: %w", t, err)
		}
		return nil
	}

	switch t {
	case EventPageview:
		var p PageviewPayload
		return p, decode(&p)
	case EventSessionStart:
		var p SessionStartPayload
		return p, decode(&p)
	case EventSessionUpdate:
		var p SessionUpdatePayload
		return p, decode(&p)
	case EventSessionEnd:
		var p SessionEndPayload
		return p, decode(&p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}

// VisitorContext is server-side enrichment derived from the request.
type VisitorContext struct {
	Browser        string  `json:"browser,omitempty"`
	BrowserVersion string  `json:"browserVersion,omitempty"`
	OS             string  `json:"os,omitempty"`
	DeviceType     string  `json:"deviceType,omitempty"`
	Country        string  `json:"country,omitempty"`
	City           string  `json:"city,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
}

// Event is a validated, enriched tracked event. Data always matches Type.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ProjectID  string         `json:"projectId"`
	SessionID  string         `json:"sessionId"`
	OccurredAt time.Time      `json:"occurredAt"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Visitor    VisitorContext `json:"visitor"`
	Data       Payload        `json:"data"`
}

// UnmarshalJSON restores the concrete Payload type from the type discriminant.
func (e *Event) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID         string          `json:"id"`
		Type       EventType       `json:"type"`
		ProjectID  string          `json:"projectId"`
		SessionID  string          `json:"sessionId"`
		OccurredAt time.Time       `json:"occurredAt"`
		ReceivedAt time.Time       `json:"receivedAt"`
		Visitor    VisitorContext  `json:"visitor"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	p, err := DecodePayload(wire.Type, wire.Data)
	if err != nil {
		return err
	}
	*e = Event{
		ID:         wire.ID,
		Type:       wire.Type,
		ProjectID:  wire.ProjectID,
		SessionID:  wire.SessionID,
		OccurredAt: wire.OccurredAt,
		ReceivedAt: wire.ReceivedAt,
		Visitor:    wire.Visitor,
		Data:       p,
	}
	return nil
}

// Page returns the most relevant page path for display, whatever the type.
func (e *Event) Page() string {
	switch p := e.Data.(type) {
	case PageviewPayload:
		if p.Path != "" {
			return p.Path
		}
		return p.URL
	case SessionStartPayload:
		return p.EntryPage
	case SessionUpdatePayload:
		return p.CurrentPage
	case SessionEndPayload:
		return p.ExitPage
	}
	return ""
}
