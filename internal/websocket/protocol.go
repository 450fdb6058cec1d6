// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package websocket

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/models"
)

// Client to server events.
const (
	EventJoinProject  = "join_project"
	EventLeaveProject = "leave_project"
	EventPing         = "ping"
)

// Server to client control events. Live events use the BrokerEvent type
// (pageview, session_added, session_updated, session_ended).
const (
	EventJoined = "joined_project"
	EventLeft   = "left_project"
	EventPong   = "pong"
	EventError  = "error"
)

// ClientMessage is a frame sent by a dashboard.
type ClientMessage struct {
	Event     string `json:"event" validate:"required,oneof=join_project leave_project ping"`
	ProjectID string `json:"projectId,omitempty" validate:"required_unless=Event ping,omitempty,projectid"`
}

// Message is a frame sent to a dashboard.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type roomData struct {
	ProjectID string `json:"projectId"`
}

type errorData struct {
	Message string `json:"message"`
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// liveFrame encodes a broker event as {"event": type, "data": data}.
// Data is passed through without re-encoding.
func liveFrame(ev models.BrokerEvent) ([]byte, error) {
	data := ev.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(Message{Event: ev.Type, Data: data})
}

func errorFrame(msg string) []byte {
	b, _ := MarshalMessage(Message{Event: EventError, Data: errorData{Message: msg}})
	return b
}
