// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
)

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue closed")

	// ErrDuplicate is returned by Push when a message with the same ID is
	// already queued or was acknowledged within the dedup window.
	ErrDuplicate = errors.New("duplicate message id")

	// ErrNotFound is returned by dead-letter operations for an unknown ID.
	ErrNotFound = errors.New("message not found")

	// ErrEmptyID is returned by Push for a message without an ID.
	ErrEmptyID = errors.New("message id is required")
)

// Handler processes one delivered message. A nil return acknowledges the
// message. A *PermanentError sends it straight to the dead-letter store;
// any other error schedules a retry.
type Handler func(ctx context.Context, msg models.QueueMessage) error

// Queue is the durable, at-least-once path between ingestion and the
// persistence worker. Messages of one project are delivered in push order.
type Queue interface {
	// Push durably stores msg. It returns once the backend has accepted it.
	Push(ctx context.Context, msg models.QueueMessage) error

	// Consume delivers messages to h until ctx is cancelled or the queue is
	// closed. It returns ctx.Err() on cancellation.
	Consume(ctx context.Context, h Handler) error

	// Close releases backend resources. Pending messages survive.
	Close() error
}

// DeadLetter is a message that exhausted its attempts or failed permanently.
type DeadLetter struct {
	Message   models.QueueMessage `json:"message"`
	Attempts  int                 `json:"attempts"`
	LastError string              `json:"lastError"`
	FailedAt  time.Time           `json:"failedAt"`
}

// DeadLetterStore is implemented by backends that keep dead letters locally
// and can hand them back for inspection or requeue.
type DeadLetterStore interface {
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	Requeue(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Pending int64 `json:"pending"`
	Leased  int64 `json:"leased"`
	Dead    int64 `json:"dead"`
}

// PermanentError marks a handler failure that retrying cannot fix, such as
// an undecodable payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a *PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff returns the delay before retry number attempts (1-based):
// initial * 2^(attempts-1), capped at maxDelay.
func Backoff(initial, maxDelay time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2, float64(attempts-1))
	if d > float64(maxDelay) || math.IsInf(d, 0) {
		return maxDelay
	}
	return time.Duration(d)
}
