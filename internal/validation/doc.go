// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package validation wraps go-playground/validator v10 with a thread-safe
// singleton and translates field errors into messages suitable for the
// ingestion API's 400 responses.
//
// Custom tags:
//
//	projectid   project and session identifiers
//	eventtype   a tracked event type (pageview, session_start, ...)
//
// Example:
//
//	type trackRequest struct {
//	    SessionID string `json:"sessionId" validate:"required,projectid"`
//	    ProjectID string `json:"projectId" validate:"required,projectid"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    ...
//	}
package validation
