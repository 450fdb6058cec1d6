// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package debuglog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
)

// Emitter publishes DebugLogs on the broker's debug channel. Publishing is
// best effort: a failure is logged and never returned to the caller.
type Emitter struct {
	broker  broker.Broker
	channel string
	now     func() time.Time
}

// NewEmitter creates an Emitter. A nil broker yields an emitter that only
// writes to the process log.
func NewEmitter(b broker.Broker, channel string) *Emitter {
	return &Emitter{broker: b, channel: channel, now: time.Now}
}

// Entry is the caller-supplied part of a DebugLog.
type Entry struct {
	EventID   string
	ProjectID string
	Data      map[string]interface{}
}

func (e *Emitter) Info(ctx context.Context, stage models.DebugStage, msg string, entry Entry) {
	e.Emit(ctx, stage, models.DebugInfo, msg, entry)
}

func (e *Emitter) Warn(ctx context.Context, stage models.DebugStage, msg string, entry Entry) {
	e.Emit(ctx, stage, models.DebugWarn, msg, entry)
}

func (e *Emitter) Error(ctx context.Context, stage models.DebugStage, msg string, entry Entry) {
	e.Emit(ctx, stage, models.DebugError, msg, entry)
}

// Emit builds and publishes a DebugLog.
func (e *Emitter) Emit(ctx context.Context, stage models.DebugStage, level models.DebugLevel, msg string, entry Entry) {
	l := models.DebugLog{
		Timestamp: e.now().UTC(),
		Stage:     stage,
		Level:     level,
		Message:   msg,
		Data:      entry.Data,
		EventID:   entry.EventID,
		ProjectID: entry.ProjectID,
	}

	logEvent(ctx, l)

	if e.broker == nil {
		return
	}
	ev, err := l.BrokerEvent()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to encode debug log")
		return
	}
	if err := e.broker.Publish(ctx, e.channel, ev); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("stage", string(stage)).Msg("Debug log publish failed")
	}
}

// logEvent mirrors the DebugLog into the structured process log.
func logEvent(ctx context.Context, l models.DebugLog) {
	logger := logging.Ctx(ctx)
	var ev *zerolog.Event
	switch l.Level {
	case models.DebugError:
		ev = logger.Error()
	case models.DebugWarn:
		ev = logger.Warn()
	default:
		ev = logger.Debug()
	}
	ev = ev.Str("stage", string(l.Stage))
	if l.EventID != "" {
		ev = ev.Str("event_id", l.EventID)
	}
	if l.ProjectID != "" {
		ev = ev.Str("project_id", l.ProjectID)
	}
	if len(l.Data) > 0 {
		ev = ev.Fields(l.Data)
	}
	ev.Msg(l.Message)
}
