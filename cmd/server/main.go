// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/visitorpulse/internal/api"
	"github.com/tomtom215/visitorpulse/internal/auth"
	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/debuglog"
	"github.com/tomtom215/visitorpulse/internal/enrich"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/queue"
	"github.com/tomtom215/visitorpulse/internal/store"
	"github.com/tomtom215/visitorpulse/internal/supervisor"
	"github.com/tomtom215/visitorpulse/internal/supervisor/services"
	"github.com/tomtom215/visitorpulse/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
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

	logging.Info().
		Str("version", version).
		Str("queue", cfg.Queue.Backend).
		Str("broker", cfg.Broker.Backend).
		Str("store", cfg.Store.Backend).
		Str("auth", cfg.Auth.Store).
		Msg("Starting VisitorPulse ingestion server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	metrics.SetAppInfo(version, "server")
	uptimeStop := make(chan struct{})
	go metrics.TrackUptime(startTime, 15*time.Second, uptimeStop)
	defer close(uptimeStop)

	natsComponents, err := InitNATS(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
	}
	natsURL := natsComponents.URL()
	if natsURL == "" {
		natsURL = cfg.Broker.NATSURL
	}

	b, err := broker.NewFromConfig(ctx, cfg.Broker, natsURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create broker")
	}

	q, err := queue.Open(cfg.Queue, natsURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event queue")
	}

	eventStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event store")
	}

	tokenStore, err := auth.OpenStore(ctx, cfg.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open token store")
	}
	validator := auth.NewValidator(tokenStore, cfg.Auth)

	enricher, err := enrich.New(cfg.Enrich.GeoIPPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Enrich.GeoIPPath).Msg("Failed to load GeoIP database")
	}

	emitter := debuglog.NewEmitter(b, cfg.Broker.DebugChannel)
	persister := worker.NewPersister(eventStore, emitter, queue.NewDeduper(cfg.Queue.DedupSize, cfg.Queue.DedupTTL))

	handler := api.NewHandler(api.Deps{
		Config:    cfg,
		Queue:     q,
		Broker:    b,
		Validator: validator,
		Enricher:  enricher,
		Emitter:   emitter,
		Store:     eventStore,
		Realtime:  api.NewRealtimeProbe(cfg.Realtime),
		Version:   version,
	})
	mw := api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(cfg.Security))
	debugStream := debuglog.NewStreamHandler(b, cfg.Broker.DebugChannel, debuglog.StreamOptions{})
	router := api.NewRouter(handler, mw, debugStream)

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	// No WriteTimeout: /debug-stream responses stay open.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree("visitorpulse", logging.NewSlogLogger(), supervisor.TreeConfigFromConfig(cfg.Supervisor))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer: the queue consumer persisting events.
	tree.AddDataService(services.NewQueueWorkerService("event-persister", persister, q))

	// API layer: the ingestion and query HTTP server.
	tree.AddAPIService(services.NewHTTPServerService("api-http", server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Serve returns once ctx is cancelled and every layer has stopped.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}
	logging.Info().Msg("Supervisor tree stopped")

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	// The broker closes after the queue; the worker may still emit debug logs.
	closeAll(
		namedCloser{"queue", q.Close},
		namedCloser{"event store", eventStore.Close},
		namedCloser{"broker", b.Close},
		namedCloser{"token store", tokenStore.Close},
		namedCloser{"geoip", enricher.Close},
	)
	validator.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	natsComponents.Shutdown(shutdownCtx)

	logging.Info().Msg("VisitorPulse ingestion server stopped gracefully")
}

type namedCloser struct {
	name  string
	close func() error
}

func closeAll(closers ...namedCloser) {
	for _, c := range closers {
		if err := c.close(); err != nil {
			logging.Error().Err(err).Str("resource", c.name).Msg("Error closing resource")
		}
	}
}
