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

// QueueMessage is the durable-path envelope. It is immutable once pushed;
// consumers must be idempotent on ID because delivery is at-least-once.
type QueueMessage struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	ProjectID  string          `json:"projectId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewQueueMessage wraps ev. The payload is the full JSON encoding of ev.
func NewQueueMessage(ev *Event) (QueueMessage, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return QueueMessage{}, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return QueueMessage{
		ID:         ev.ID,
		Type:       ev.Type,
		ProjectID:  ev.ProjectID,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Event decodes the payload back into a typed Event.
func (m QueueMessage) Event() (*Event, error) {
	var ev Event
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode queue message %s: %w", m.ID, err)
	}
	return &ev, nil
}
