// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package broker implements the live path: best-effort, at-most-once fan-out
of models.BrokerEvent values on named channels.

PubSub owns one transport subscription per channel per process and fans
each decoded event out to local handlers. Transports:

  - memory: in-process, for single-binary deployments and tests
  - nats: core NATS through watermill-nats (optionally an EmbeddedServer)
  - amqp: RabbitMQ fanout exchanges through watermill-amqp
  - redis: Redis PUBLISH/SUBSCRIBE

Publish goes through a sony/gobreaker circuit breaker when enabled; while it
is open Publish fails fast with ErrCircuitOpen and BreakerState reports
"open", which the realtime health endpoint turns into a degraded status.

Malformed payloads are counted and skipped; they never end a subscription.
*/
package broker
