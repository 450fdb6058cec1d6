// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package store persists tracked events and per-session summaries.

The persistence worker is the only writer. Readers are the query API and
the polling fallback of the client reconciliation feed.

Backends:

  - badger (default): embedded, keys ordered by project then time so a
    range query is a single prefix seek
  - clickhouse: ReplacingMergeTree tables, reads use FINAL

SaveEvent is idempotent on event id. Session returns ErrNotFound for an
unknown session, which the API maps to 404.
*/
package store
