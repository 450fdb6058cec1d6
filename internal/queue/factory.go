// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
)

// Open opens the backend selected by cfg.Backend. natsURL is only used by
// the jetstream backend and usually points at the broker's NATS server.
func Open(cfg config.QueueConfig, natsURL string) (Queue, error) {
	switch cfg.Backend {
	case "badger", "":
		return OpenBadger(cfg)
	case "jetstream":
		if natsURL == "" {
			return nil, fmt.Errorf("jetstream queue requires a NATS url")
		}
		applyQueueDefaults(&cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ProvisionStream(ctx, natsURL, cfg); err != nil {
			return nil, err
		}
		return NewJetStream(natsURL, cfg)
	case "kafka":
		return NewKafka(cfg)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
