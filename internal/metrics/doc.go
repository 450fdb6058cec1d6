// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package metrics provides Prometheus collectors for the VisitorPulse pipeline.

Collectors are package-level promauto values registered on the default
registry, so every package can record without plumbing a registry through.

# Metrics Endpoint

Both the ingestion server and the realtime server expose /metrics:

	curl http://localhost:8080/metrics
	curl http://localhost:8081/metrics

# Families

  - api_*: request count, latency, in-flight requests, rate limit rejections
  - ingest_*: accepted events by type, rejections by reason, live publish failures
  - queue_*: push results, deliveries, acks, retries, dead letters, depth
  - broker_*: publish results, local deliveries, malformed payloads, subscriptions
  - circuit_breaker_*: broker breaker state and transitions
  - websocket_*: connections, rooms, frames, skipped broadcasts, slow client drops
  - debug_stream_*: open SSE streams and budget drops
  - token_*: validation results and cache hits
  - event_store_*: write latency and errors

Useful queries:

	# live path health
	rate(broker_messages_published_total{result!="success"}[5m])

	# rooms with an audience
	websocket_rooms_active
*/
package metrics
