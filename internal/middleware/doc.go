// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package middleware provides net/http middleware shared by the ingestion and
realtime routers.

  - RequestID: X-Request-ID propagation plus correlation id for logging.Ctx
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled
    by chi route pattern
  - RequestLogger: one zerolog line per request

All three are func(http.Handler) http.Handler and can be passed to chi's
Use. The wrappers keep http.Flusher and http.Hijacker working, which the
debug SSE stream and the WebSocket upgrade depend on.

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.RequestLogger)
*/
package middleware
