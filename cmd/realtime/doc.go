// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package main is the entry point for the VisitorPulse realtime server.

It subscribes to the broker's live channel and fans events out over
WebSocket to dashboards that joined a project room. Runs as its own process
so websocket load never competes with ingestion.

	RootSupervisor ("visitorpulse-realtime")
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket-hub
	│   └── live-relay (broker subscription)
	└── APISupervisor ("api-layer")
	    └── realtime-http (/ws, /health, /metrics)

Configuration shares the ingestion server's file and environment:

	REALTIME_PORT=8081
	REALTIME_ALLOWED_ORIGINS=https://dash.example.com
	BROKER_BACKEND=nats
	NATS_URL=nats://127.0.0.1:4222

Shutdown drains first: new upgrades are refused with 503 and the live
subscription is closed, then the listener stops, then connected clients
are closed by the hub.
*/
package main
