// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package models

import "time"

// SessionSummary is the persisted rollup of a visitor session, maintained by
// the persistence worker and served to the polling fallback.
type SessionSummary struct {
	ProjectID   string         `json:"projectId"`
	SessionID   string         `json:"sessionId"`
	StartedAt   time.Time      `json:"startedAt"`
	LastSeenAt  time.Time      `json:"lastSeenAt"`
	EndedAt     *time.Time     `json:"endedAt,omitempty"`
	PageViews   int            `json:"pageViews"`
	EntryPage   string         `json:"entryPage,omitempty"`
	CurrentPage string         `json:"currentPage,omitempty"`
	Visitor     VisitorContext `json:"visitor"`
	Events      int            `json:"events"`
	// LastEventID guards against re-applying the same event twice.
	LastEventID string `json:"lastEventId,omitempty"`
}

// Active reports whether the session has not ended.
func (s *SessionSummary) Active() bool {
	return s.EndedAt == nil
}

// Apply folds ev into the summary. It is a no-op for an event already
// applied last, which keeps redelivery from double counting.
func (s *SessionSummary) Apply(ev *Event) {
	if s.LastEventID == ev.ID {
		return
	}
	if s.SessionID == "" {
		s.ProjectID = ev.ProjectID
		s.SessionID = ev.SessionID
		s.StartedAt = ev.OccurredAt
		s.Visitor = ev.Visitor
	}
	if ev.OccurredAt.Before(s.StartedAt) {
		s.StartedAt = ev.OccurredAt
	}
	if ev.OccurredAt.After(s.LastSeenAt) {
		s.LastSeenAt = ev.OccurredAt
	}
	s.Events++
	s.LastEventID = ev.ID

	switch p := ev.Data.(type) {
	case PageviewPayload:
		s.PageViews++
		s.CurrentPage = ev.Page()
		if s.EntryPage == "" {
			s.EntryPage = s.CurrentPage
		}
	case SessionStartPayload:
		if p.EntryPage != "" {
			s.EntryPage = p.EntryPage
			s.CurrentPage = p.EntryPage
		}
		if p.StartedAt != nil && p.StartedAt.Before(s.StartedAt) {
			s.StartedAt = *p.StartedAt
		}
	case SessionUpdatePayload:
		if p.CurrentPage != "" {
			s.CurrentPage = p.CurrentPage
		}
		if p.PageViews > s.PageViews {
			s.PageViews = p.PageViews
		}
	case SessionEndPayload:
		if p.ExitPage != "" {
			s.CurrentPage = p.ExitPage
		}
		if p.PageViews > s.PageViews {
			s.PageViews = p.PageViews
		}
		ended := ev.OccurredAt
		if p.EndedAt != nil {
			ended = *p.EndedAt
		}
		s.EndedAt = &ended
	}
}
