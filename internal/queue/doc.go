// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package queue is the durable path between the ingestion endpoint and the
persistence worker.

Three backends implement Queue:

  - BadgerQueue: embedded BadgerDB store with leases, exponential backoff
    and a local dead-letter store (DeadLetterStore)
  - JetStreamQueue: NATS JetStream through watermill-nats, with the watermill
    Retry and PoisonQueue middleware
  - KafkaQueue: segmentio/kafka-go, keyed by project ID, with a dead-letter
    topic

Delivery is at-least-once on every backend. Handlers must be idempotent on
QueueMessage.ID; Deduper.Wrap skips redeliveries seen recently.

Handler errors wrapped with Permanent skip the remaining attempts:

	err := q.Consume(ctx, func(ctx context.Context, msg models.QueueMessage) error {
		ev, err := msg.Event()
		if err != nil {
			return queue.Permanent(err)
		}
		return store.Save(ctx, ev)
	})
*/
package queue
