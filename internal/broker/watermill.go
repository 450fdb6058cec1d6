// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/visitorpulse/internal/logging"
)

// WatermillTransport adapts a watermill publisher/subscriber pair. Messages
// are acknowledged as soon as they are read: the live path does not retry.
type WatermillTransport struct {
	name string
	pub  message.Publisher
	sub  message.Subscriber
}

// NewWatermillTransport wraps an existing publisher and subscriber.
func NewWatermillTransport(name string, pub message.Publisher, sub message.Subscriber) *WatermillTransport {
	return &WatermillTransport{name: name, pub: pub, sub: sub}
}

// NewNATSTransport uses core NATS subjects (JetStream disabled, no queue
// group), so every process subscribed to a channel receives every event.
func NewNATSTransport(url string) (*WatermillTransport, error) {
	logger := logging.NewWatermillAdapter("broker.nats")
	natsOpts := []natsgo.Option{
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

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return NewWatermillTransport("nats", pub, sub), nil
}

// NewAMQPTransport uses a non-durable fanout exchange per channel. Each
// process gets its own queue (suffixed with instanceID) bound to it.
func NewAMQPTransport(url, instanceID string) (*WatermillTransport, error) {
	logger := logging.NewWatermillAdapter("broker.amqp")
	cfg := amqp.NewNonDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(instanceID))

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create amqp subscriber: %w", err)
	}
	return NewWatermillTransport("amqp", pub, sub), nil
}

func (t *WatermillTransport) Name() string { return t.name }

func (t *WatermillTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := t.pub.Publish(channel, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (t *WatermillTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	messages, err := t.sub.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				payload := msg.Payload
				msg.Ack()
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *WatermillTransport) Close() error {
	return errors.Join(t.pub.Close(), t.sub.Close())
}
