// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// captureTo swaps the global logger for a JSON logger writing to w.
func captureTo(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log = zerolog.New(w).With().Timestamp().Logger()
}
