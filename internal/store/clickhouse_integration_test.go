// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/testinfra"
)

func TestClickHouseStore_Integration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ch, err := testinfra.NewClickHouseContainer(ctx)
	if err != nil {
		t.Fatalf("start clickhouse: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, ch.Container)

	s, err := OpenClickHouse(ctx, config.StoreConfig{Backend: "clickhouse", ClickHouseDSN: ch.DSN})
	if err != nil {
		t.Fatalf("OpenClickHouse: %v", err)
	}
	defer s.Close()

	ev := testEvent("e1", "p1", "s1", t0, models.PageviewPayload{Path: "/"})
	for i := 0; i < 2; i++ {
		if err := s.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}
	if err := s.SaveEvent(ctx, testEvent("e2", "p1", "s1", t0.Add(time.Minute), models.SessionEndPayload{})); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	events, err := s.Events(ctx, EventQuery{ProjectID: "p1", To: t0.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}

	sess, err := s.Session(ctx, "p1", "s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess.PageViews != 1 || sess.Active() {
		t.Errorf("Unexpected session %+v", sess)
	}
	if _, err := s.Session(ctx, "p1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
