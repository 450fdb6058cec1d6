// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package websocket

import (
	"context"
	"fmt"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
)

// Relay forwards live broker events into hub rooms.
type Relay struct {
	hub     *Hub
	broker  broker.Broker
	channel string
}

// NewRelay creates a relay for the given live channel.
func NewRelay(hub *Hub, b broker.Broker, channel string) *Relay {
	return &Relay{hub: hub, broker: b, channel: channel}
}

// Start subscribes to the live channel. The returned subscription must be
// closed before the hub stops.
func (r *Relay) Start(ctx context.Context) (broker.Subscription, error) {
	sub, err := r.broker.Subscribe(ctx, r.channel, r.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	logging.Info().Str("channel", r.channel).Msg("live relay subscribed")
	return sub, nil
}

func (r *Relay) handle(_ context.Context, ev models.BrokerEvent) {
	if ev.ProjectID == "" {
		logging.Debug().Str("type", ev.Type).Msg("live event without project, ignoring")
		return
	}
	r.hub.BroadcastEvent(ev)
}
