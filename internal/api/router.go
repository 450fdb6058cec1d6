// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/visitorpulse/internal/middleware"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler        *Handler
	chiMiddleware  *ChiMiddleware
	debugStream    http.Handler
	trustedProxies bool
}

// NewRouter creates a router. debugStream serves GET /debug-stream and may
// be nil to leave the route unmounted.
func NewRouter(handler *Handler, mw *ChiMiddleware, debugStream http.Handler) *Router {
	return &Router{
		handler:        handler,
		chiMiddleware:  mw,
		debugStream:    debugStream,
		trustedProxies: len(handler.cfg.Security.TrustedProxies) > 0,
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, outermost first
	r.Use(middleware.RequestID)
	if router.trustedProxies {
		r.Use(chimiddleware.RealIP) // only behind a proxy that sets X-Forwarded-For
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)

	// Ingestion. CORS is permissive because tracked sites live on any origin.
	r.Group(func(r chi.Router) {
		r.Use(TrackingCORS())
		r.Use(middleware.PrometheusMetrics)
		r.Use(Recover())

		r.Options("/track-event", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.With(router.chiMiddleware.RateLimit()).Post("/track-event", router.handler.TrackEvent)
	})

	// Operator diagnostics
	if router.debugStream != nil {
		r.Get("/debug-stream", router.debugStream.ServeHTTP)
	}

	// Query API feeding the dashboard polling fallback
	r.Route("/api/projects/{projectId}", func(r chi.Router) {
		r.Use(router.chiMiddleware.CORS())
		r.Use(middleware.PrometheusMetrics)
		r.Use(Recover())

		r.Get("/live-sessions", router.handler.LiveSessions)
		r.Get("/events", router.handler.Events)
		r.Get("/sessions/{sessionId}", router.handler.Session)
	})

	// Health and metrics
	r.Get("/health", router.handler.Health)
	r.Get("/health/realtime", router.handler.HealthRealtime)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
