// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/realtime"
	"github.com/tomtom215/visitorpulse/internal/supervisor"
	"github.com/tomtom215/visitorpulse/internal/supervisor/services"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	if !cfg.Realtime.Enabled {
		logging.Warn().Msg("Realtime is disabled (REALTIME_ENABLED=false), nothing to serve")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetAppInfo(version, "realtime")
	uptimeStop := make(chan struct{})
	go metrics.TrackUptime(time.Now(), 15*time.Second, uptimeStop)
	defer close(uptimeStop)

	b, err := broker.NewFromConfig(ctx, cfg.Broker, brokerURL(cfg.Broker))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create broker")
	}

	srv := realtime.NewServer(cfg.Realtime, b, cfg.Broker.LiveChannel)

	tree, err := supervisor.NewSupervisorTree("visitorpulse-realtime", logging.NewSlogLogger(), supervisor.TreeConfigFromConfig(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(services.NewWebSocketHubService(srv.Hub()))
	tree.AddMessagingService(services.NewSubscriptionService("live-relay", srv))

	httpServer := srv.HTTPServer()
	tree.AddAPIService(services.NewHTTPServerService("realtime-http", httpServer, cfg.Server.ShutdownTimeout).BeforeShutdown(srv.Drain))

	logging.Info().
		Str("addr", httpServer.Addr).
		Str("public_url", cfg.Realtime.PublicURL).
		Str("channel", cfg.Broker.LiveChannel).
		Msg("Starting VisitorPulse realtime server")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	if err := b.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing broker")
	}
	logging.Info().Msg("VisitorPulse realtime server stopped gracefully")
}

// brokerURL points the fan-out process at the ingestion server's embedded
// NATS when one is configured.
func brokerURL(cfg config.BrokerConfig) string {
	if cfg.Backend == "nats" && cfg.EmbeddedNATS && cfg.EmbeddedPort > 0 {
		return fmt.Sprintf("nats://%s:%d", cfg.EmbeddedHost, cfg.EmbeddedPort)
	}
	return ""
}
