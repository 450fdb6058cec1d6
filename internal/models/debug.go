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

// DebugStage identifies where in the pipeline a DebugLog was emitted.
type DebugStage string

const (
	StageIngestion DebugStage = "ingestion"
	StageQueue     DebugStage = "queue"
	StageBroker    DebugStage = "broker"
	StageWorker    DebugStage = "worker"
	StageWebsocket DebugStage = "websocket"
)

type DebugLevel string

const (
	DebugInfo  DebugLevel = "info"
	DebugWarn  DebugLevel = "warn"
	DebugError DebugLevel = "error"
)

// DebugLog is a pipeline observability record. It travels over the broker's
// debug channel and is never persisted.
type DebugLog struct {
	Timestamp time.Time              `json:"timestamp"`
	Stage     DebugStage             `json:"stage"`
	Level     DebugLevel             `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	EventID   string                 `json:"eventId,omitempty"`
	ProjectID string                 `json:"projectId,omitempty"`
}

// BrokerEvent wraps the log for publication on the debug channel. The broker
// event type carries the level, e.g. "debug.error".
func (l DebugLog) BrokerEvent() (BrokerEvent, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return BrokerEvent{}, fmt.Errorf("encode debug log: %w", err)
	}
	return BrokerEvent{
		Type:        "debug." + string(l.Level),
		ProjectID:   l.ProjectID,
		EventID:     l.EventID,
		Data:        data,
		PublishedAt: l.Timestamp,
	}, nil
}

// MatchesProject reports whether a stream filtered on projectID should see
// this log. Logs without a project are visible to every filter.
func (l DebugLog) MatchesProject(projectID string) bool {
	return projectID == "" || l.ProjectID == "" || l.ProjectID == projectID
}
