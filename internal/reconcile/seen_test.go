// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
)

func TestTTLSetExpires(t *testing.T) {
	const ttl = 200 * time.Millisecond
	s := NewTTLSet(10, ttl)
	added := time.Now()
	s.Add("s1")
	if !s.Contains("s1") {
		t.Fatal("Expected s1 to be present right after Add")
	}

	time.Sleep(ttl + 10*time.Millisecond)
	if s.Contains("s1") {
		t.Errorf("Expected s1 to be gone %v after Add, TTL is %v", time.Since(added), ttl)
	}
}

func TestTTLSetReAddRestartsTTL(t *testing.T) {
	const ttl = 200 * time.Millisecond
	s := NewTTLSet(10, ttl)
	s.Add("s1")
	time.Sleep(ttl / 2)
	s.Add("s1")
	time.Sleep(ttl/2 + 20*time.Millisecond)
	if !s.Contains("s1") {
		t.Error("Expected a re-added id to live a full TTL from the second Add")
	}
	time.Sleep(ttl / 2)
	if s.Contains("s1") {
		t.Error("Expected s1 to expire a TTL after the second Add")
	}
}

func TestTTLSetCapacity(t *testing.T) {
	s := NewTTLSet(2, time.Hour)
	s.Add("s1")
	s.Add("s2")
	s.Add("s3")
	if s.Len() != 2 {
		t.Errorf("Expected capacity to bound the set at 2, got %d", s.Len())
	}
	if s.Contains("s1") {
		t.Error("Expected the oldest id to be evicted")
	}
}

func TestSweepSetSurvival(t *testing.T) {
	s := NewSweepSet(0.9)
	rolls := []float64{0.1, 0.95, 0.5, 0.9}
	i := 0
	s.rand = func() float64 {
		r := rolls[i%len(rolls)]
		i++
		return r
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		s.Add(id)
	}

	dropped := s.Sweep()
	if dropped != 2 {
		t.Errorf("Expected 2 entries dropped (rolls >= 0.9), got %d", dropped)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 survivors, got %d", s.Len())
	}
}

func TestNewSeenSetSelectsAging(t *testing.T) {
	cfg := config.Default().Reconcile
	if _, ok := NewSeenSet(cfg).(*TTLSet); !ok {
		t.Error("Expected TTLSet for ttl aging")
	}
	cfg.Aging = AgingProbabilistic
	if _, ok := NewSeenSet(cfg).(*SweepSet); !ok {
		t.Error("Expected SweepSet for probabilistic aging")
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	s := NewSweepSet(0.5)
	s.rand = func() float64 { return 0.99 }
	s.Add("a")
	s.Add("b")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(s, 10*time.Millisecond).Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if s.Len() != 0 {
		t.Errorf("Expected the sweeper to drop every entry, %d left", s.Len())
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
