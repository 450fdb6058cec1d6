// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package debuglog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const (
	DefaultHeartbeat  = 15 * time.Second
	DefaultFrameRate  = 50
	DefaultFrameBurst = 100

	frameBuffer = 256
)

// StreamOptions tunes a StreamHandler. Zero values take the defaults.
type StreamOptions struct {
	Heartbeat  time.Duration
	FrameRate  float64 // frames per second per connection
	FrameBurst int
}

// StreamHandler serves GET /debug-stream as Server-Sent Events.
//
// Each connection gets its own broker subscription, an optional projectId
// filter and a frame budget. Frames over budget, or arriving while the
// connection's buffer is full, are dropped and counted.
type StreamHandler struct {
	broker  broker.Broker
	channel string
	opts    StreamOptions
}

func NewStreamHandler(b broker.Broker, channel string, opts StreamOptions) *StreamHandler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.FrameBurst <= 0 {
		opts.FrameBurst = DefaultFrameBurst
	}
	return &StreamHandler{broker: b, channel: channel, opts: opts}
}

type connectedFrame struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	projectID := r.URL.Query().Get("projectId")
	logger := logging.Ctx(ctx).With().Str("filter_project", projectID).Logger()

	frames := make(chan []byte, frameBuffer)
	sub, err := h.broker.Subscribe(ctx, h.channel, func(_ context.Context, ev models.BrokerEvent) {
		var l models.DebugLog
		if err := ev.DecodeData(&l); err != nil {
			logger.Warn().Err(err).Str("type", ev.Type).Msg("Skipping malformed debug log")
			return
		}
		if !l.MatchesProject(projectID) {
			return
		}
		select {
		case frames <- ev.Data:
		default:
			metrics.DebugStreamFramesDropped.Inc()
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("Debug stream subscribe failed")
		http.Error(w, "debug stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Debug().Err(err).Msg("Debug stream unsubscribe failed")
		}
	}()

	metrics.DebugStreamSubscribers.Inc()
	defer metrics.DebugStreamSubscribers.Dec()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, err := json.Marshal(connectedFrame{Type: "connected", ProjectID: projectID, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	if writeFrame(w, hello) != nil {
		return
	}
	flusher.Flush()
	logger.Debug().Msg("Debug stream opened")

	limiter := rate.NewLimiter(rate.Limit(h.opts.FrameRate), h.opts.FrameBurst)
	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Debug stream closed")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame := <-frames:
			if !limiter.Allow() {
				metrics.DebugStreamFramesDropped.Inc()
				continue
			}
			if err := writeFrame(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one SSE event. Each line of data gets its own "data:"
// field so an embedded newline cannot end the event early.
func writeFrame(w io.Writer, data []byte) error {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))

	var buf bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
