// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package reconcile turns the live push stream and the live-sessions poll
into one "new live visitor" notification feed.

A candidate session is notified only when it is not in the seen set and no
other notification fired within the debounce window (2s by default). The
debounce is global, so a burst of arrivals yields one notification; the
suppressed sessions stay unseen and can surface on a later poll.

The seen set ages out entries either by exact TTL (TTLSet, the default) or
by a periodic probabilistic sweep (SweepSet, survival 0.9 every 5m).

Runtime probes GET /health/realtime once at startup. In realtime mode it
adds a PushSource next to the Poller; otherwise polling is the only source.
*/
package reconcile
