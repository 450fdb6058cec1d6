// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package realtime

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/middleware"
	"github.com/tomtom215/visitorpulse/internal/websocket"
)

// brokerHealth is implemented by *broker.PubSub.
type brokerHealth interface {
	Healthy() bool
	Transport() string
}

// Server is the standalone fan-out process: a websocket hub fed by the
// broker's live channel.
//
// Shutdown runs in three steps. Drain stops accepting upgrades and closes
// the broker subscription, then the HTTP server closes its listener, then
// the hub disconnects the remaining clients when its context ends.
type Server struct {
	cfg      config.RealtimeConfig
	hub      *websocket.Hub
	relay    *websocket.Relay
	broker   broker.Broker
	ws       http.Handler
	started  time.Time
	draining atomic.Bool

	mu  sync.Mutex
	sub broker.Subscription
}

// NewServer wires a hub and relay for liveChannel.
func NewServer(cfg config.RealtimeConfig, b broker.Broker, liveChannel string) *Server {
	hub := websocket.NewHub()
	return &Server{
		cfg:     cfg,
		hub:     hub,
		relay:   websocket.NewRelay(hub, b, liveChannel),
		broker:  b,
		ws:      websocket.NewHandler(hub, websocket.OptionsFromConfig(cfg), cfg.AllowedOrigins),
		started: time.Now(),
	}
}

// Hub returns the room registry, for supervision.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start subscribes the relay to the live channel. It satisfies the
// supervisor's SubscriptionStarter so a lost subscription is restarted.
func (s *Server) Start(ctx context.Context) (broker.Subscription, error) {
	sub, err := s.relay.Start(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return sub, nil
}

// Drain rejects new upgrades and closes the live subscription. It is
// safe to call more than once.
func (s *Server) Drain() {
	if !s.draining.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			logging.Warn().Err(err).Msg("failed to close live subscription")
		}
	}
	logging.Info().Int("clients", s.hub.GetClientCount()).Msg("realtime server draining")
}

// Router returns the HTTP routes: /ws, /health and /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)

	r.With(middleware.PrometheusMetrics).Get("/ws", s.handleWS)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// HTTPServer builds the listener for the fan-out router. WriteTimeout is
// left at zero since upgraded connections manage their own deadlines.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.ws.ServeHTTP(w, r)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	RoomCount   int            `json:"roomCount"`
	Rooms       map[string]int `json:"rooms"`
	Broker      string         `json:"broker,omitempty"`
	Uptime      float64        `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Connections: s.hub.GetClientCount(),
		Rooms:       s.hub.Rooms(),
		Uptime:      time.Since(s.started).Seconds(),
	}
	resp.RoomCount = len(resp.Rooms)

	code := http.StatusOK
	if bh, ok := s.broker.(brokerHealth); ok {
		resp.Broker = bh.Transport()
		if !bh.Healthy() {
			resp.Status = "degraded"
		}
	}
	if s.draining.Load() {
		resp.Status = "draining"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Debug().Err(err).Msg("failed to write health response")
	}
}
