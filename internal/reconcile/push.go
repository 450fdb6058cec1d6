// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
	ws "github.com/tomtom215/visitorpulse/internal/websocket"
)

// DefaultReconnectBackoff is the minimum gap between two dial attempts.
const DefaultReconnectBackoff = 5 * time.Second

// PushSource joins a project room on the fan-out server and offers live
// session events. A lost or refused connection is retried, paced by a rate
// limiter, and never stops the feed; polling covers the gap.
type PushSource struct {
	url       string
	projectID string
	dialer    *websocket.Dialer
	limiter   *rate.Limiter
	sink      Offerer
	connected atomic.Bool
}

func NewPushSource(wsURL, projectID string, backoff time.Duration, sink Offerer) *PushSource {
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}
	return &PushSource{
		url:       wsURL,
		projectID: projectID,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(backoff), 1),
		sink:      sink,
	}
}

// Connected reports whether the room is currently joined.
func (p *PushSource) Connected() bool {
	return p.connected.Load()
}

// Serve implements suture.Service.
func (p *PushSource) Serve(ctx context.Context) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			// Wait fails early when the next token lies past the deadline.
			<-ctx.Done()
			return ctx.Err()
		}
		err := p.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn().Err(err).Str("url", p.url).Msg("Push stream unavailable, polling continues")
	}
}

func (p *PushSource) String() string { return "live-push-source" }

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (p *PushSource) session(ctx context.Context) error {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	join, err := json.Marshal(ws.ClientMessage{Event: ws.EventJoinProject, ProjectID: p.projectID})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	defer p.connected.Store(false)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		p.handle(raw)
	}
}

func (p *PushSource) handle(raw []byte) {
	var frame serverFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logging.Debug().Err(err).Msg("Skipping malformed push frame")
		return
	}

	switch frame.Event {
	case ws.EventJoined:
		p.connected.Store(true)
		logging.Info().Str("project_id", p.projectID).Msg("Joined live room")
	case ws.EventError:
		logging.Warn().RawJSON("data", frame.Data).Msg("Fan-out server reported an error")
	case string(models.LivePageview), string(models.LiveSessionAdded), string(models.LiveSessionUpdated):
		var live models.LiveSession
		if err := json.Unmarshal(frame.Data, &live); err != nil {
			logging.Debug().Err(err).Str("event", frame.Event).Msg("Skipping undecodable live event")
			return
		}
		p.sink.Offer(Candidate{
			Source:    SourcePush,
			ProjectID: live.ProjectID,
			SessionID: live.SessionID,
			Page:      live.Page,
			Visitor:   live.Visitor,
			At:        live.At,
		})
	}
}
