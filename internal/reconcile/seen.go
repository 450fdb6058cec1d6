// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
)

// Aging modes for the seen set.
const (
	AgingTTL           = "ttl"
	AgingProbabilistic = "probabilistic"
)

// SeenSet holds the session ids already surfaced to the user.
// Implementations are safe for concurrent use.
type SeenSet interface {
	Contains(id string) bool
	Add(id string)
	Len() int
}

// NewSeenSet builds the set selected by cfg.Aging.
func NewSeenSet(cfg config.ReconcileConfig) SeenSet {
	if cfg.Aging == AgingProbabilistic {
		return NewSweepSet(cfg.SurvivalRate)
	}
	return NewTTLSet(cfg.SeenCapacity, cfg.SeenTTL)
}

// TTLSet expires each id a fixed time after it was added. When full, the
// least recently added id goes first.
type TTLSet struct {
	lru *expirable.LRU[string, struct{}]
}

func NewTTLSet(capacity int, ttl time.Duration) *TTLSet {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TTLSet{lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// Contains reports whether id was added less than the TTL ago. Peek checks
// the entry's expiry itself; the LRU's Contains only sees what the
// background cleanup has not removed yet.
func (s *TTLSet) Contains(id string) bool {
	_, ok := s.lru.Peek(id)
	return ok
}

func (s *TTLSet) Add(id string) { s.lru.Add(id, struct{}{}) }

// Len may include expired ids the cleanup has not reached yet.
func (s *TTLSet) Len() int { return s.lru.Len() }

// SweepSet ages entries probabilistically: each Sweep keeps every entry
// with probability survival, independent of its age. Retention is unbounded
// for an unlucky entry; use TTLSet when exact expiry matters.
type SweepSet struct {
	mu       sync.Mutex
	ids      map[string]struct{}
	survival float64
	rand     func() float64
}

func NewSweepSet(survival float64) *SweepSet {
	if survival <= 0 || survival >= 1 {
		survival = 0.9
	}
	return &SweepSet{ids: make(map[string]struct{}), survival: survival, rand: rand.Float64}
}

func (s *SweepSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *SweepSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *SweepSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Sweep evicts each entry with probability 1-survival and returns how many
// were dropped.
func (s *SweepSet) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id := range s.ids {
		if s.rand() >= s.survival {
			delete(s.ids, id)
			dropped++
		}
	}
	return dropped
}

// Sweeper runs SweepSet.Sweep on a fixed interval. It implements
// suture.Service.
type Sweeper struct {
	set      *SweepSet
	interval time.Duration
}

func NewSweeper(set *SweepSet, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{set: set, interval: interval}
}

func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			dropped := s.set.Sweep()
			logging.Debug().Int("dropped", dropped).Int("remaining", s.set.Len()).Msg("Seen set swept")
		}
	}
}

func (s *Sweeper) String() string { return "seen-set-sweeper" }
