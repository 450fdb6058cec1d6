// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const backendKafka = "kafka"

// KafkaQueue keys every record by project ID, so one project always lands
// on one partition and keeps its order. Each of the Workers readers joins
// the same consumer group and processes its partitions sequentially.
type KafkaQueue struct {
	cfg    config.QueueConfig
	writer *kafka.Writer
	dlq    *kafka.Writer

	mu     sync.RWMutex
	closed bool
}

// NewKafka creates writers for the queue and dead-letter topics. Readers
// are created by Consume.
func NewKafka(cfg config.QueueConfig) (*KafkaQueue, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	applyQueueDefaults(&cfg)

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		}
	}

	logging.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.KafkaTopic).
		Msg("Kafka queue configured")

	return &KafkaQueue{
		cfg:    cfg,
		writer: newWriter(cfg.KafkaTopic),
		dlq:    newWriter(cfg.KafkaDLQTopic),
	}, nil
}

func (q *KafkaQueue) checkNotClosed() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Push writes msg and waits for all in-sync replicas to acknowledge it.
func (q *KafkaQueue) Push(ctx context.Context, m models.QueueMessage) (err error) {
	defer func() { metrics.RecordQueuePush(backendKafka, err, false) }()

	if err := q.checkNotClosed(); err != nil {
		return err
	}
	if m.ID == "" {
		return ErrEmptyID
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ProjectID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(m.ID)},
			{Key: "event_type", Value: []byte(m.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", q.cfg.KafkaTopic, err)
	}
	return nil
}

// Consume starts Workers group readers and blocks until ctx is done.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.cfg.KafkaBrokers,
			Topic:    q.cfg.KafkaTopic,
			GroupID:  q.cfg.KafkaGroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer reader.Close()
			if err := q.readLoop(ctx, reader, h); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Int("reader", id).Msg("Kafka reader stopped")
				errCh <- err
			}
		}(i)
	}

	logging.Info().
		Int("readers", q.cfg.Workers).
		Str("group", q.cfg.KafkaGroupID).
		Msg("Kafka queue consumer started")

	wg.Wait()
	close(errCh)
	if err := ctx.Err(); err != nil {
		return err
	}
	return <-errCh
}

func (q *KafkaQueue) readLoop(ctx context.Context, reader *kafka.Reader, h Handler) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		metrics.QueueDelivered.WithLabelValues(backendKafka).Inc()

		if err := q.handle(ctx, msg, h); err != nil {
			// Only cancellation gets here; leave the offset uncommitted.
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit kafka offset")
		}
	}
}

// handle runs h with inline retries. It returns an error only when ctx is
// cancelled; every other outcome ends in an ack or a dead letter.
func (q *KafkaQueue) handle(ctx context.Context, msg kafka.Message, h Handler) error {
	var qm models.QueueMessage
	if err := json.Unmarshal(msg.Value, &qm); err != nil {
		q.deadLetter(ctx, msg, 1, Permanent(fmt.Errorf("decode queue message: %w", err)))
		return nil
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := h(ctx, qm)
		metrics.QueueProcessingDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.QueueAcked.WithLabelValues(backendKafka).Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsPermanent(err) || attempt >= q.cfg.MaxAttempts {
			q.deadLetter(ctx, msg, attempt, err)
			return nil
		}

		delay := Backoff(q.cfg.InitialBackoff, q.cfg.MaxBackoff, attempt)
		metrics.QueueRetries.WithLabelValues(backendKafka).Inc()
		logging.Warn().
			Err(err).
			Str("id", qm.ID).
			Int("attempts", attempt).
			Dur("retry_in", delay).
			Msg("Queue message failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (q *KafkaQueue) deadLetter(ctx context.Context, msg kafka.Message, attempts int, cause error) {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_reason", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlq_attempts", Value: []byte(fmt.Sprintf("%d", attempts))},
	)
	err := q.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Str("topic", q.cfg.KafkaDLQTopic).Msg("Failed to write dead letter")
		return
	}
	metrics.QueueDeadLettered.WithLabelValues(backendKafka).Inc()
	logging.Error().
		Err(cause).
		Int("attempts", attempts).
		Int64("offset", msg.Offset).
		Msg("Queue message moved to dead-letter topic")
}

// Close flushes and closes both writers.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return errors.Join(q.writer.Close(), q.dlq.Close())
}
