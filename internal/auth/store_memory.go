// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/visitorpulse/internal/models"
)

// MemoryStore is a Store for tests and throwaway deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]models.Project
	tokens   map[string]models.ProjectToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]models.Project),
		tokens:   make(map[string]models.ProjectToken),
	}
}

func (s *MemoryStore) PutProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

func (s *MemoryStore) CreateToken(_ context.Context, t *models.ProjectToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, id string) (*models.ProjectToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (s *MemoryStore) FindByPrefix(_ context.Context, prefix string) ([]models.ProjectToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProjectToken
	for _, t := range s.tokens {
		if t.TokenPrefix == prefix {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTokens(_ context.Context, projectID string) ([]models.ProjectToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProjectToken
	for _, t := range s.tokens {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeToken(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	t.RevokedAt = &at
	s.tokens[id] = t
	return nil
}

func (s *MemoryStore) TouchToken(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	t.LastUsedAt = &at
	s.tokens[id] = t
	return nil
}

func (s *MemoryStore) Close() error { return nil }
