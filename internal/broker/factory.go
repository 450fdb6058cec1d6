// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

// NewFromConfig builds the transport selected by cfg.Backend and wraps it.
// natsURL overrides cfg.NATSURL when non-empty (embedded server).
func NewFromConfig(ctx context.Context, cfg config.BrokerConfig, natsURL string) (*PubSub, error) {
	var (
		t   Transport
		err error
	)
	switch cfg.Backend {
	case "memory":
		t = NewMemoryTransport()
	case "nats":
		if natsURL == "" {
			natsURL = cfg.NATSURL
		}
		t, err = NewNATSTransport(natsURL)
	case "amqp":
		t, err = NewAMQPTransport(cfg.AMQPURL, uuid.NewString())
	case "redis":
		t, err = NewRedisTransport(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("backend", t.Name()).
		Str("live_channel", cfg.LiveChannel).
		Str("debug_channel", cfg.DebugChannel).
		Bool("circuit_breaker", cfg.CircuitBreaker.Enabled).
		Msg("Broker ready")

	return New(t,
		WithCircuitBreaker(cfg.CircuitBreaker),
		WithSubscriberBuffer(cfg.SubscriberBuffer),
	), nil
}
