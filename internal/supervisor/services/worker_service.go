// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/visitorpulse/internal/queue"
)

// QueueWorker is satisfied by *worker.Persister.
type QueueWorker interface {
	Run(ctx context.Context, q queue.Queue) error
}

// QueueWorkerService consumes a queue under supervision. A consumer that
// exits with an error other than cancellation is restarted by the tree.
type QueueWorkerService struct {
	worker QueueWorker
	queue  queue.Queue
	name   string
}

// NewQueueWorkerService wraps a worker bound to q.
func NewQueueWorkerService(name string, w QueueWorker, q queue.Queue) *QueueWorkerService {
	if name == "" {
		name = "queue-worker"
	}
	return &QueueWorkerService{worker: w, queue: q, name: name}
}

// Serve implements suture.Service.
func (s *QueueWorkerService) Serve(ctx context.Context) error {
	err := s.worker.Run(ctx, s.queue)
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *QueueWorkerService) String() string {
	return s.name
}
