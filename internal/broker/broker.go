// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

var (
	// ErrBrokerClosed is returned by operations on a closed broker.
	ErrBrokerClosed = errors.New("broker closed")

	// ErrCircuitOpen is returned by Publish while the publish circuit
	// breaker rejects calls.
	ErrCircuitOpen = errors.New("broker circuit open")
)

const resubscribeDelay = time.Second

// Handler receives broker events in publish order. It runs on the
// subscription's own goroutine and should not block for long.
type Handler func(ctx context.Context, ev models.BrokerEvent)

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the best-effort, at-most-once live path.
type Broker interface {
	Publish(ctx context.Context, channel string, ev models.BrokerEvent) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	Close() error
}

// Transport moves encoded events between processes. Subscribe delivers
// payloads until ctx is cancelled and then closes the returned channel.
type Transport interface {
	Name() string
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// PubSub implements Broker over a Transport. It holds one transport
// subscription per channel and fans events out to local handlers, each with
// its own buffer, so a slow handler only loses its own events.
type PubSub struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker[interface{}]
	buffer    int

	mu       sync.Mutex
	channels map[string]*channelState
	nextID   uint64
	closed   bool
}

type channelState struct {
	name   string
	cancel context.CancelFunc
	subs   map[uint64]*subscription
}

// Option customizes a PubSub.
type Option func(*PubSub)

// WithCircuitBreaker guards Publish with a circuit breaker built from cfg.
// A disabled cfg leaves Publish unguarded.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) Option {
	return func(ps *PubSub) {
		if cfg.Enabled {
			ps.breaker = newPublishBreaker("broker-"+ps.transport.Name(), cfg)
		}
	}
}

// WithSubscriberBuffer sets the per-handler event buffer.
func WithSubscriberBuffer(n int) Option {
	return func(ps *PubSub) {
		if n > 0 {
			ps.buffer = n
		}
	}
}

// New wraps t.
func New(t Transport, opts ...Option) *PubSub {
	ps := &PubSub{
		transport: t,
		buffer:    256,
		channels:  make(map[string]*channelState),
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Transport returns the underlying transport name (memory, nats, amqp, redis).
func (ps *PubSub) Transport() string {
	return ps.transport.Name()
}

// Publish encodes ev and hands it to the transport. Publishing to a channel
// nobody listens on is not an error.
func (ps *PubSub) Publish(ctx context.Context, channel string, ev models.BrokerEvent) (err error) {
	rejected := false
	defer func() { metrics.RecordBrokerPublish(channel, err, rejected) }()

	ps.mu.Lock()
	closed := ps.closed
	ps.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	if ev.PublishedAt.IsZero() {
		ev.PublishedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encode broker event: %w", err)
	}

	if ps.breaker == nil {
		return ps.transport.Publish(ctx, channel, payload)
	}
	_, err = ps.breaker.Execute(func() (interface{}, error) {
		return nil, ps.transport.Publish(ctx, channel, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rejected = true
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// Subscribe registers h on channel. The subscription ends when ctx is done,
// Unsubscribe is called or the broker is closed.
func (ps *PubSub) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil, ErrBrokerClosed
	}

	state, ok := ps.channels[channel]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		raw, err := ps.transport.Subscribe(subCtx, channel)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
		}
		state = &channelState{name: channel, cancel: cancel, subs: make(map[uint64]*subscription)}
		ps.channels[channel] = state
		go ps.pump(subCtx, state, raw)
	}

	ps.nextID++
	sub := &subscription{
		id:      ps.nextID,
		ps:      ps,
		channel: channel,
		events:  make(chan models.BrokerEvent, ps.buffer),
		stop:    make(chan struct{}),
	}
	state.subs[sub.id] = sub
	metrics.BrokerSubscriptions.WithLabelValues(channel).Inc()

	go sub.run(ctx, h)
	return sub, nil
}

// pump decodes transport payloads and fans them out. If the transport
// subscription ends while the channel is still wanted it is re-established.
func (ps *PubSub) pump(ctx context.Context, state *channelState, raw <-chan []byte) {
	for {
		for payload := range raw {
			var ev models.BrokerEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				metrics.BrokerMalformed.WithLabelValues(state.name).Inc()
				logging.Warn().Err(err).Str("channel", state.name).Int("bytes", len(payload)).Msg("Skipping malformed broker payload")
				continue
			}
			ps.dispatch(state, ev)
		}

		if ctx.Err() != nil {
			return
		}
		logging.Warn().Str("channel", state.name).Str("transport", ps.transport.Name()).Msg("Broker subscription ended, resubscribing")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			var err error
			raw, err = ps.transport.Subscribe(ctx, state.name)
			if err == nil {
				break
			}
			logging.Error().Err(err).Str("channel", state.name).Msg("Broker resubscribe failed")
		}
	}
}

func (ps *PubSub) dispatch(state *channelState, ev models.BrokerEvent) {
	ps.mu.Lock()
	targets := make([]*subscription, 0, len(state.subs))
	for _, s := range state.subs {
		targets = append(targets, s)
	}
	ps.mu.Unlock()

	for _, s := range targets {
		select {
		case s.events <- ev:
			metrics.BrokerDelivered.WithLabelValues(state.name).Inc()
		default:
			metrics.BrokerDropped.WithLabelValues(state.name).Inc()
		}
	}
}

func (ps *PubSub) remove(s *subscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	state, ok := ps.channels[s.channel]
	if !ok {
		return
	}
	if _, ok := state.subs[s.id]; !ok {
		return
	}
	delete(state.subs, s.id)
	metrics.BrokerSubscriptions.WithLabelValues(s.channel).Dec()
	if len(state.subs) == 0 {
		state.cancel()
		delete(ps.channels, s.channel)
	}
}

// Subscribers returns the number of local handlers on channel.
func (ps *PubSub) Subscribers(channel string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if state, ok := ps.channels[channel]; ok {
		return len(state.subs)
	}
	return 0
}

// Healthy reports whether publishes are currently let through.
func (ps *PubSub) Healthy() bool {
	return ps.BreakerState() != gobreaker.StateOpen.String()
}

// BreakerState returns the publish circuit breaker state, or "disabled".
func (ps *PubSub) BreakerState() string {
	if ps.breaker == nil {
		return "disabled"
	}
	return ps.breaker.State().String()
}

// Close ends every subscription and closes the transport.
func (ps *PubSub) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	var subs []*subscription
	for name, state := range ps.channels {
		state.cancel()
		for _, s := range state.subs {
			subs = append(subs, s)
		}
		delete(ps.channels, name)
		metrics.BrokerSubscriptions.WithLabelValues(name).Sub(float64(len(state.subs)))
	}
	ps.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.stop) })
	}
	return ps.transport.Close()
}

type subscription struct {
	id      uint64
	ps      *PubSub
	channel string
	events  chan models.BrokerEvent
	stop    chan struct{}
	once    sync.Once
}

func (s *subscription) run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		case <-s.stop:
			return
		case ev := <-s.events:
			s.handle(ctx, h, ev)
		}
	}
}

func (s *subscription) handle(ctx context.Context, h Handler, ev models.BrokerEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("channel", s.channel).Msg("Broker handler panicked")
		}
	}()
	h(ctx, ev)
}

// Unsubscribe detaches the handler. Safe to call more than once and from
// inside the handler.
func (s *subscription) Unsubscribe() error {
	s.ps.remove(s)
	s.once.Do(func() { close(s.stop) })
	return nil
}
