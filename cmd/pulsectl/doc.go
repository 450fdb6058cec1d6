// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package main is pulsectl, the VisitorPulse admin and watch CLI.

	pulsectl project create --id acme --name "Acme Inc"
	pulsectl project disable --id acme
	pulsectl token create --project acme --name marketing-site --expires 2160h
	pulsectl token list --project acme
	pulsectl token revoke <token-id>
	pulsectl dlq stats
	pulsectl dlq list --limit 20
	pulsectl dlq requeue <event-id>
	pulsectl dlq discard <event-id>
	pulsectl watch --server http://localhost:8080 --project acme --token $PULSE_TOKEN

project, token and dlq open the configured stores directly. The badger
backends hold a directory lock, so stop the server first (the postgres
token store has no such restriction).

watch asks the server for /health/realtime once, then follows the project's
new visitors over WebSocket when realtime is healthy, polling the
live-sessions API either way. Each visitor is announced once.
*/
package main
