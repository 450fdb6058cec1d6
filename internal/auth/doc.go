// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package auth validates project-scoped tracking tokens.

Tokens look like vp_<projectKey>_<secret>. Only the first 16 characters
(the lookup prefix) and a bcrypt hash of the SHA-256 of the token are
stored, so a Store can find candidates by prefix without holding anything
that could be replayed.

Validation (Validator.Validate):

 1. Reject empty and malformed tokens.
 2. Resolve the token id: from a short-lived ttlcache keyed by SHA-256,
    or by fetching candidates sharing the lookup prefix and verifying each
    hash, stopping at the first match.
 3. Reload the token and check revocation, expiry and that it belongs to
    the requested project, then that the project exists and is enabled.

Only the hash match is cached, so a revoked token or a disabled project is
refused on the next request.

Store backends:

  - MemoryStore: tests and throwaway deployments
  - BadgerStore: embedded default, shares nothing with the queue database
  - PostgresStore: shared token database for multi-instance ingestion

Manager creates and revokes tokens for pulsectl. Use IsUnauthorized and
IsNotFound to map validation errors onto 401 and 404.
*/
package auth
