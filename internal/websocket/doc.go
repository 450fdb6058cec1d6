// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package websocket fans live visitor events out to dashboards grouped in
per-project rooms.

Key Components:

  - Hub: client registry and room membership; delivers room frames
  - Client: one connection with a read and a write goroutine
  - Relay: broker live channel subscriber feeding the hub
  - Handler: HTTP upgrade endpoint (mounted at /ws)

Protocol:

Dashboards send JSON frames:

	{"event": "join_project", "projectId": "acme"}
	{"event": "leave_project", "projectId": "acme"}
	{"event": "ping"}

The server replies with joined_project, left_project or pong, and sends
live events as:

	{"event": "session_added", "data": {"sessionId": "...", ...}}

Invalid frames are answered with {"event": "error", "data": {"message": "..."}}
and the connection stays open.

Rooms:

A client is in at most one room; joining another project leaves the
previous one. A room is created on first join and removed when its last
member leaves or disconnects, so RoomCount never includes empty rooms.
Events for a project with no room are dropped before they are encoded.

Backpressure:

Each client has a bounded send buffer. When a delivery finds it full the
client is disconnected instead of blocking the room.
*/
package websocket
