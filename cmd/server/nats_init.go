// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"sync"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

// NATSComponents owns the in-process NATS server used by single-node
// deployments. A nil *NATSComponents means an external server (or a
// non-NATS broker) is in use; every method is nil-safe.
type NATSComponents struct {
	server *broker.EmbeddedServer

	mu      sync.Mutex
	running bool
}

// InitNATS starts the embedded server when the broker is nats and
// embedded_nats is set. It returns nil, nil otherwise.
func InitNATS(cfg *config.Config) (*NATSComponents, error) {
	if cfg.Broker.Backend != "nats" || !cfg.Broker.EmbeddedNATS {
		return nil, nil
	}

	server, err := broker.NewEmbeddedServer(broker.EmbeddedServerConfig{
		Host:      cfg.Broker.EmbeddedHost,
		Port:      cfg.Broker.EmbeddedPort,
		StoreDir:  cfg.Broker.EmbeddedJetDir,
		JetStream: cfg.Queue.Backend == "jetstream",
	})
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("url", server.ClientURL()).
		Bool("jetstream", server.JetStreamEnabled()).
		Msg("Embedded NATS server started")

	return &NATSComponents{server: server, running: true}, nil
}

// URL returns the embedded server's client URL, or "" when there is none.
func (c *NATSComponents) URL() string {
	if c == nil || c.server == nil {
		return ""
	}
	return c.server.ClientURL()
}

// IsRunning reports whether the embedded server has not been shut down.
func (c *NATSComponents) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Shutdown stops the embedded server. Safe to call more than once.
func (c *NATSComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	if c.server == nil {
		return
	}
	if err := c.server.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown did not complete")
		return
	}
	logging.Info().Msg("Embedded NATS server stopped")
}
