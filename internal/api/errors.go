// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/logging"
)

// Common API errors
var (
	// ErrInvalidBody is returned for a request body that is not a JSON object.
	ErrInvalidBody = errors.New("request body must be a JSON object")

	// ErrInvalidTime is returned for a query timestamp that is not RFC 3339.
	ErrInvalidTime = errors.New("timestamps must be RFC 3339")
)

// ErrorResponse is the body of every non-2xx response. Error is only set
// for 500s and carries a machine-readable cause.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// TrackResponse is the body of an accepted tracked event.
type TrackResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Message: message})
}

// respondInternal writes a 500 whose error field names the cause without
// leaking internals such as stack traces.
func respondInternal(w http.ResponseWriter, message string, err error) {
	cause := "internal_error"
	if err != nil {
		cause = sanitizeLogValue(err.Error())
	}
	respondJSON(w, http.StatusInternalServerError, ErrorResponse{Message: message, Error: cause})
}

// sanitizeLogValue strips control characters so client-influenced text
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}
