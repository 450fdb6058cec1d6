// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package services adapts VisitorPulse components to suture.Service.

Each wrapper turns a component lifecycle into Serve(ctx) error and
implements fmt.Stringer so suture log events name the service:

  - HTTPServerService: ListenAndServe with graceful Shutdown
  - WebSocketHubService: websocket.Hub.RunWithContext
  - QueueWorkerService: worker.Persister.Run against a queue
  - SubscriptionService: a broker subscription held until shutdown

Returning ctx.Err() after cancellation tells suture the stop was requested;
any other error triggers a restart with backoff.
*/
package services
