// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package main is the entry point for the VisitorPulse ingestion server.

The server accepts tracked events on POST /track-event, queues them durably,
publishes a live copy to the broker for the realtime fan-out server, and
persists queued events with a supervised worker. It also serves the read API
used by the polling fallback, /debug-stream, the health endpoints and
/metrics.

# Application Architecture

	RootSupervisor ("visitorpulse")
	├── DataSupervisor ("data-layer")
	│   └── event-persister (queue consumer -> event store)
	├── MessagingSupervisor ("messaging-layer")
	└── APISupervisor ("api-layer")
	    └── api-http (chi router)

Component initialization order:

 1. Configuration: koanf (defaults, config.yaml, environment)
 2. Logging: zerolog with JSON or console output
 3. Embedded NATS (broker.backend=nats with embedded_nats=true)
 4. Broker, queue, event store and token store
 5. Supervisor tree and HTTP server

# Configuration

	HTTP_PORT=8080               # ingestion API port
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console
	QUEUE_BACKEND=badger         # badger, jetstream or kafka
	BROKER_BACKEND=nats          # memory, nats, amqp or redis
	NATS_EMBEDDED=true
	STORE_BACKEND=badger         # badger or clickhouse
	AUTH_STORE=badger            # badger, postgres or memory
	REALTIME_PUBLIC_URL=ws://localhost:8081/ws
	GEOIP_PATH=/data/GeoLite2-City.mmdb

Project tokens are minted with pulsectl (see cmd/pulsectl).

# Signal Handling

On SIGINT or SIGTERM the supervisor stops the HTTP server (waiting up to
server.shutdown_timeout for in-flight requests), then the queue consumer.
The queue, stores and broker are closed afterwards, and the embedded NATS
server last.

# Example Usage

	export BROKER_BACKEND=memory LOG_FORMAT=console
	go run ./cmd/server

	curl -X POST localhost:8080/track-event \
	  -H "Authorization: Bearer vp_..." \
	  -d '{"projectId":"acme","sessionId":"s-1","type":"pageview","payload":{"path":"/"}}'

# See Also

  - internal/api: HTTP handlers and routing
  - internal/queue: durable queue backends
  - internal/supervisor: process supervision
  - cmd/realtime: the websocket fan-out server
*/
package main
