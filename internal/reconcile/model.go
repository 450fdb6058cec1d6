// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"sync"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
)

// DefaultDebounce is the minimum gap between two notifications.
const DefaultDebounce = 2 * time.Second

// Source identifies where a candidate came from.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Outcome is the model's decision for one candidate.
type Outcome string

const (
	OutcomeNotified  Outcome = "notified"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDebounced Outcome = "debounced"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeIgnored   Outcome = "ignored"
)

// Candidate is a session that may deserve a "new live visitor"
// notification.
type Candidate struct {
	Source    Source
	ProjectID string
	SessionID string
	Page      string
	Visitor   models.VisitorContext
	At        time.Time
}

// Notification is handed to the NotifyFunc for every accepted candidate.
type Notification struct {
	Candidate
	NotifiedAt time.Time
}

// NotifyFunc renders a notification. It is called without the model lock
// held, from whichever source goroutine offered the candidate.
type NotifyFunc func(Notification)

// Options tunes a Model. Zero values take the defaults.
type Options struct {
	Debounce      time.Duration
	Notifications bool
	EventLogSize  int
}

// Model merges push and poll candidates into one deduplicated, debounced
// notification feed.
//
// The debounce is global: while a notification was shown less than
// Debounce ago, every new session is suppressed, whichever session it is.
// A suppressed session is not marked seen, so a later poll can still
// surface it.
type Model struct {
	mu           sync.Mutex
	seen         SeenSet
	log          *EventLog
	notify       NotifyFunc
	debounce     time.Duration
	enabled      bool
	lastNotified time.Time
	now          func() time.Time
}

// New creates a Model. A nil seen set takes a TTLSet with default bounds.
func New(seen SeenSet, notify NotifyFunc, opts Options) *Model {
	if seen == nil {
		seen = NewTTLSet(0, 0)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if notify == nil {
		notify = func(Notification) {}
	}
	return &Model{
		seen:     seen,
		log:      NewEventLog(opts.EventLogSize),
		notify:   notify,
		debounce: opts.Debounce,
		enabled:  opts.Notifications,
		now:      time.Now,
	}
}

// Offer decides whether c becomes a notification.
func (m *Model) Offer(c Candidate) Outcome {
	m.mu.Lock()
	now := m.now()
	outcome := m.decide(c, now)
	if outcome == OutcomeNotified {
		m.seen.Add(c.SessionID)
		m.lastNotified = now
	}
	m.log.Append(LogEntry{At: now, Source: c.Source, ProjectID: c.ProjectID, SessionID: c.SessionID, Outcome: outcome})
	m.mu.Unlock()

	if outcome == OutcomeNotified {
		m.notify(Notification{Candidate: c, NotifiedAt: now})
	}
	return outcome
}

func (m *Model) decide(c Candidate, now time.Time) Outcome {
	switch {
	case c.SessionID == "":
		return OutcomeIgnored
	case !m.enabled:
		return OutcomeDisabled
	case m.seen.Contains(c.SessionID):
		return OutcomeDuplicate
	case !m.lastNotified.IsZero() && now.Sub(m.lastNotified) < m.debounce:
		return OutcomeDebounced
	}
	return OutcomeNotified
}

// SetNotifications toggles the feed. Sources keep running while it is off.
func (m *Model) SetNotifications(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *Model) NotificationsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Log returns the recent decisions, oldest first.
func (m *Model) Log() []LogEntry {
	return m.log.Entries()
}

// Seen reports how many sessions are currently remembered.
func (m *Model) Seen() int {
	return m.seen.Len()
}
