// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package debuglog carries pipeline diagnostics.

Emitter publishes a models.DebugLog on the broker's debug channel at each
stage transition (ingestion, queue, worker) and mirrors it to the process
log. StreamHandler serves those logs to operators as Server-Sent Events:

	GET /debug-stream?projectId=p1

	data: {"type":"connected","projectId":"p1","timestamp":"..."}

	data: {"timestamp":"...","stage":"ingestion","level":"info","message":"Event accepted",...}

	: keep-alive

Logs without a projectId are delivered to every stream. Nothing here is
persisted; a stream only sees logs published while it is open.
*/
package debuglog
