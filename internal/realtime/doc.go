// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package realtime assembles the fan-out server run by cmd/realtime: the
// websocket hub, its broker relay and the HTTP routes (/ws, /health,
// /metrics). Instances share nothing but the broker; each keeps its own
// room table.
package realtime
