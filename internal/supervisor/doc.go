// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package supervisor runs VisitorPulse's long-lived components under a suture v4
supervisor tree.

# Overview

Services are grouped into three layers so a crash in one is restarted in
place without disturbing the others:

	RootSupervisor ("visitorpulse-server" or "visitorpulse-realtime")
	├── DataSupervisor ("data-layer")
	│   └── QueueWorkerService (one per configured worker)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocketHubService (realtime only)
	│   └── SubscriptionService (live relay, realtime only)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

# Usage

	tree, err := supervisor.NewSupervisorTree("visitorpulse-server",
	    logging.NewSlogLogger(), supervisor.TreeConfigFromConfig(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewQueueWorkerService("persister-1", persister, q))
	tree.AddAPIService(services.NewHTTPServerService("api-http", srv, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

# Configuration

TreeConfig mirrors suture.Spec. Zero fields take suture's defaults
(5 failures, 30s decay, 15s backoff, 10s shutdown timeout).

# Return Values

A service returns ctx.Err() when asked to stop. Any other error counts as
a failure and the service is restarted after backoff. Events are logged
through the slog bridge in the logging package via sutureslog.

# Debugging Shutdown

UnstoppedServiceReport lists services that did not return within the
shutdown timeout.
*/
package supervisor
