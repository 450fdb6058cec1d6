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

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const backendJetStream = "jetstream"

// StreamManager is the subset of jetstream.JetStream used to provision the
// queue stream.
type StreamManager interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// EnsureStream creates or updates the stream that holds both the queue
// subject and its dead-letter subject.
func EnsureStream(ctx context.Context, js StreamManager, cfg config.QueueConfig) (jetstream.Stream, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	streamCfg := jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.Subject, cfg.DeadLetterSubj},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		Duplicates: cfg.DedupTTL,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	_, err := js.Stream(ctx, cfg.StreamName)
	if err == nil {
		stream, err := js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
		return stream, nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
		return stream, nil
	}
	return nil, fmt.Errorf("check stream %s: %w", cfg.StreamName, err)
}

// ProvisionStream connects to url and runs EnsureStream.
func ProvisionStream(ctx context.Context, url string, cfg config.QueueConfig) error {
	nc, err := natsgo.Connect(url, natsgo.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if _, err := EnsureStream(ctx, js, cfg); err != nil {
		return err
	}
	logging.Info().
		Str("stream", cfg.StreamName).
		Str("subject", cfg.Subject).
		Msg("JetStream queue stream ready")
	return nil
}

// JetStreamQueue stores messages in a NATS JetStream stream through
// watermill. The stream must exist (see EnsureStream).
//
// A single durable subscriber consumes the stream in sequence order, which
// keeps per-project FIFO. Retries happen inline with exponential backoff;
// exhausted or permanently failed messages are published to DeadLetterSubj.
type JetStreamQueue struct {
	cfg       config.QueueConfig
	url       string
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// NewJetStream connects a publisher to the NATS server at url.
func NewJetStream(url string, cfg config.QueueConfig) (*JetStreamQueue, error) {
	applyQueueDefaults(&cfg)
	logger := logging.NewWatermillAdapter("queue.jetstream")

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create jetstream publisher: %w", err)
	}

	return &JetStreamQueue{
		cfg:       cfg,
		url:       url,
		publisher: pub,
		logger:    logger,
	}, nil
}

func (q *JetStreamQueue) checkNotClosed() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Push publishes msg and waits for the JetStream ack. The message ID is used
// as Nats-Msg-Id, so a repeated push inside the stream's duplicate window is
// dropped by the server.
func (q *JetStreamQueue) Push(ctx context.Context, m models.QueueMessage) (err error) {
	defer func() { metrics.RecordQueuePush(backendJetStream, err, false) }()

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

	msg := message.NewMessage(m.ID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, m.ID)
	msg.Metadata.Set("project_id", m.ProjectID)
	msg.Metadata.Set("event_type", string(m.Type))

	if err := q.publisher.Publish(q.cfg.Subject, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", q.cfg.Subject, err)
	}
	return nil
}

// Consume runs a watermill router on the queue subject until ctx is done.
func (q *JetStreamQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.checkNotClosed(); err != nil {
		return err
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              q.url,
		SubscribersCount: 1,
		AckWaitTimeout:   q.cfg.LeaseDuration,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOptions(q.logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(q.cfg.StreamName),
				natsgo.MaxAckPending(1),
				natsgo.AckWait(q.cfg.LeaseDuration),
				natsgo.DeliverAll(),
			},
			DurablePrefix: q.cfg.DurableName,
		},
	}, q.logger)
	if err != nil {
		return fmt.Errorf("create jetstream subscriber: %w", err)
	}

	router, err := q.newRouter(h, sub)
	if err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		_ = router.Close()
	}()

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("run queue router: %w", err)
	}
	return ctx.Err()
}

func (q *JetStreamQueue) newRouter(h Handler, sub message.Subscriber) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, q.logger)
	if err != nil {
		return nil, fmt.Errorf("create queue router: %w", err)
	}

	poison, err := middleware.PoisonQueueWithFilter(q.publisher, q.cfg.DeadLetterSubj, func(err error) bool {
		metrics.QueueDeadLettered.WithLabelValues(backendJetStream).Inc()
		logging.Error().Err(err).Str("subject", q.cfg.DeadLetterSubj).Msg("Queue message moved to dead-letter subject")
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}

	retry := middleware.Retry{
		MaxRetries:      q.cfg.MaxAttempts - 1,
		InitialInterval: q.cfg.InitialBackoff,
		MaxInterval:     q.cfg.MaxBackoff,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if IsPermanent(params.Err) {
				return false
			}
			metrics.QueueRetries.WithLabelValues(backendJetStream).Inc()
			return true
		},
		Logger: q.logger,
	}

	// Outermost first: dead-lettering sees the error left after retries.
	router.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)

	router.AddConsumerHandler("queue-consumer", q.cfg.Subject, sub, func(msg *message.Message) error {
		metrics.QueueDelivered.WithLabelValues(backendJetStream).Inc()

		var qm models.QueueMessage
		if err := json.Unmarshal(msg.Payload, &qm); err != nil {
			return Permanent(fmt.Errorf("decode queue message %s: %w", msg.UUID, err))
		}

		start := time.Now()
		err := h(msg.Context(), qm)
		metrics.QueueProcessingDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		metrics.QueueAcked.WithLabelValues(backendJetStream).Inc()
		return nil
	})
	return router, nil
}

// Close closes the publisher.
func (q *JetStreamQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.publisher.Close()
}
