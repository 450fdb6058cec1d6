// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

// SubscriptionStarter is satisfied by *websocket.Relay.
type SubscriptionStarter interface {
	Start(ctx context.Context) (broker.Subscription, error)
}

// SubscriptionService holds a broker subscription open for as long as it
// is supervised.
type SubscriptionService struct {
	starter SubscriptionStarter
	name    string
}

// NewSubscriptionService wraps a subscription starter.
func NewSubscriptionService(name string, s SubscriptionStarter) *SubscriptionService {
	if name == "" {
		name = "broker-subscription"
	}
	return &SubscriptionService{starter: s, name: name}
}

// Serve implements suture.Service.
func (s *SubscriptionService) Serve(ctx context.Context) error {
	sub, err := s.starter.Start(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("unsubscribe failed")
	}
	return ctx.Err()
}

func (s *SubscriptionService) String() string {
	return s.name
}
