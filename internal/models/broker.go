// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// LiveEventType names the events sent to dashboards over the fan-out socket.
type LiveEventType string

const (
	LivePageview       LiveEventType = "pageview"
	LiveSessionAdded   LiveEventType = "session_added"
	LiveSessionUpdated LiveEventType = "session_updated"
	LiveSessionEnded   LiveEventType = "session_ended"
)

// BrokerEvent is the best-effort broadcast unit. Nothing persists or replays it.
type BrokerEvent struct {
	Type        string          `json:"type"`
	ProjectID   string          `json:"projectId,omitempty"`
	EventID     string          `json:"eventId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// LiveSession is the data of a live BrokerEvent, shaped for the live map.
type LiveSession struct {
	SessionID string         `json:"sessionId"`
	ProjectID string         `json:"projectId"`
	EventType EventType      `json:"eventType"`
	Page      string         `json:"page,omitempty"`
	Visitor   VisitorContext `json:"visitor"`
	At        time.Time      `json:"at"`
}

// NewLiveEvent builds the broker event announcing ev to live observers.
func NewLiveEvent(ev *Event) (BrokerEvent, error) {
	data, err := json.Marshal(LiveSession{
		SessionID: ev.SessionID,
		ProjectID: ev.ProjectID,
		EventType: ev.Type,
		Page:      ev.Page(),
		Visitor:   ev.Visitor,
		At:        ev.OccurredAt,
	})
	if err != nil {
		return BrokerEvent{}, fmt.Errorf("encode live event %s: %w", ev.ID, err)
	}
	return BrokerEvent{
		Type:        string(ev.Type.LiveType()),
		ProjectID:   ev.ProjectID,
		EventID:     ev.ID,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// DecodeData unmarshals the event data into dst.
func (e BrokerEvent) DecodeData(dst interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("broker event %q has no data", e.Type)
	}
	return json.Unmarshal(e.Data, dst)
}
