// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package api is the ingestion server's HTTP surface.

Routes:

	POST /track-event                                  tracker SDK ingestion
	OPTIONS /track-event                               CORS pre-flight
	GET  /debug-stream?projectId=                      pipeline DebugLogs as SSE
	GET  /api/projects/{projectId}/live-sessions       sessions active since ?since
	GET  /api/projects/{projectId}/events              stored events by ?from&to&limit
	GET  /api/projects/{projectId}/sessions/{sessionId}
	GET  /health                                       queue depth and broker state
	GET  /health/realtime                              push or polling hint for clients
	GET  /metrics                                      Prometheus

An accepted event is pushed to the durable queue first and only then
published on the live channel. A queue failure is a 500; a live publish
failure is logged and the response is still 200.

Error bodies are {"message": ...}; 500s add a machine-readable "error".
*/
package api
