// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package logging wraps zerolog behind a process-wide logger used by every
// VisitorPulse component.
//
// Initialize once from main:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
// Log with structured fields and always terminate the chain:
//
//	logging.Info().Str("project_id", pid).Int("rooms", n).Msg("Room created")
//
// Request-scoped logging picks up request and correlation ids stored in the
// context by the HTTP middleware:
//
//	logging.Ctx(r.Context()).Warn().Err(err).Msg("Broker publish failed")
//
// Adapters are provided for log/slog (used by the suture supervisor) and for
// watermill (used by the NATS and AMQP transports).
package logging
