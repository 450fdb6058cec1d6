// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package queue

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

// Deduper remembers recently processed message IDs so that redeliveries
// within the window are acknowledged without running the handler again.
type Deduper struct {
	seen *expirable.LRU[string, struct{}]
}

// NewDeduper keeps up to size IDs for ttl each.
func NewDeduper(size int, ttl time.Duration) *Deduper {
	if size <= 0 {
		size = 10000
	}
	return &Deduper{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether id was processed within the window.
func (d *Deduper) Seen(id string) bool {
	_, ok := d.seen.Get(id)
	return ok
}

// Wrap returns a Handler that skips seen IDs. An ID is only recorded after
// h succeeds, so a failed attempt is retried normally.
func (d *Deduper) Wrap(h Handler) Handler {
	return func(ctx context.Context, msg models.QueueMessage) error {
		if d.Seen(msg.ID) {
			metrics.QueueDeduplicated.Inc()
			logging.Debug().Str("id", msg.ID).Msg("Skipping redelivered queue message")
			return nil
		}
		if err := h(ctx, msg); err != nil {
			return err
		}
		d.seen.Add(msg.ID, struct{}{})
		return nil
	}
}
