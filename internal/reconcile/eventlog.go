// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"sync"
	"time"
)

// DefaultEventLogSize is the number of entries an EventLog keeps.
const DefaultEventLogSize = 100

// LogEntry records one candidate and what the model did with it.
type LogEntry struct {
	At        time.Time `json:"at"`
	Source    Source    `json:"source"`
	ProjectID string    `json:"projectId"`
	SessionID string    `json:"sessionId"`
	Outcome   Outcome   `json:"outcome"`
}

// EventLog is a bounded, ordered log. Appending to a full log evicts the
// oldest entry.
type EventLog struct {
	mu      sync.Mutex
	entries []LogEntry
	start   int
	size    int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogSize
	}
	return &EventLog{entries: make([]LogEntry, capacity)}
}

func (l *EventLog) Append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := len(l.entries)
	if l.size < capacity {
		l.entries[(l.start+l.size)%capacity] = e
		l.size++
		return
	}
	l.entries[l.start] = e
	l.start = (l.start + 1) % capacity
}

// Entries returns a copy of the log, oldest first.
func (l *EventLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.start+i)%len(l.entries)]
	}
	return out
}

func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
