// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/testinfra"
)

func TestRedisTransport_Integration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	redisC, err := testinfra.NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, redisC.Container)

	tr, err := NewRedisTransport(ctx, redisC.Addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisTransport: %v", err)
	}
	ps := New(tr)
	defer ps.Close()

	c := &collector{}
	if _, err := ps.Subscribe(ctx, "visitor-live", c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := ps.Publish(ctx, "visitor-live", models.BrokerEvent{Type: "session_ended", ProjectID: "p1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, 10*time.Second, func() bool { return c.len() == 1 })
}
