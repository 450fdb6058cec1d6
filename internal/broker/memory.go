// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package broker

import (
	"context"
	"sync"
)

const memoryBuffer = 1024

// MemoryTransport delivers within one process. Used for single-binary
// deployments and tests.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

// NewMemoryTransport returns an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[chan []byte]struct{})}
}

func (t *MemoryTransport) Name() string { return "memory" }

// Publish never blocks; a full subscriber buffer drops the payload.
func (t *MemoryTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrBrokerClosed
	}
	for ch := range t.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrBrokerClosed
	}

	ch := make(chan []byte, memoryBuffer)
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[chan []byte]struct{})
	}
	t.subs[channel][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[channel][ch]; ok {
			delete(t.subs[channel], ch)
			if len(t.subs[channel]) == 0 {
				delete(t.subs, channel)
			}
			close(ch)
		}
	}()
	return ch, nil
}

// Close ends all subscriptions.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for channel, chans := range t.subs {
		for ch := range chans {
			close(ch)
		}
		delete(t.subs, channel)
	}
	return nil
}
