// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/visitorpulse/internal/models"
)

var projectKeyPattern = regexp.MustCompile(`[^a-z0-9]+`)

// CreateTokenRequest describes a token to mint.
type CreateTokenRequest struct {
	ProjectID string
	Name      string
	ExpiresIn time.Duration // zero means no expiry
}

// CreateTokenResponse carries the plaintext token, shown only once.
type CreateTokenResponse struct {
	Token     *models.ProjectToken
	Plaintext string
}

// Manager administers projects and their tokens.
type Manager struct {
	store      Store
	bcryptCost int
}

func NewManager(store Store, bcryptCost int) *Manager {
	if bcryptCost == 0 {
		bcryptCost = DefaultBcryptCost
	}
	return &Manager{store: store, bcryptCost: bcryptCost}
}

// EnsureProject returns the project, creating it when absent.
func (m *Manager) EnsureProject(ctx context.Context, id, name string) (*models.Project, error) {
	p, err := m.store.GetProject(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProjectNotFound) {
		return nil, err
	}
	if name == "" {
		name = id
	}
	p = &models.Project{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	if err := m.store.PutProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetProjectDisabled toggles whether the project accepts events.
func (m *Manager) SetProjectDisabled(ctx context.Context, id string, disabled bool) error {
	p, err := m.store.GetProject(ctx, id)
	if err != nil {
		return err
	}
	p.Disabled = disabled
	return m.store.PutProject(ctx, p)
}

// CreateToken mints a token for an existing project.
func (m *Manager) CreateToken(ctx context.Context, req CreateTokenRequest) (*CreateTokenResponse, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if _, err := m.store.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	plaintext, err := GenerateToken(projectKey(req.ProjectID))
	if err != nil {
		return nil, err
	}
	hash, err := hashToken(plaintext, m.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tok := &models.ProjectToken{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		TokenPrefix: LookupPrefix(plaintext),
		TokenHash:   hash,
		CreatedAt:   now,
	}
	if req.ExpiresIn > 0 {
		exp := now.Add(req.ExpiresIn)
		tok.ExpiresAt = &exp
	}
	if err := m.store.CreateToken(ctx, tok); err != nil {
		return nil, err
	}
	return &CreateTokenResponse{Token: tok, Plaintext: plaintext}, nil
}

func (m *Manager) ListTokens(ctx context.Context, projectID string) ([]models.ProjectToken, error) {
	return m.store.ListTokens(ctx, projectID)
}

// RevokeToken revokes by id. Revoking twice is not an error.
func (m *Manager) RevokeToken(ctx context.Context, id string) error {
	tok, err := m.store.GetToken(ctx, id)
	if err != nil {
		return err
	}
	if tok.IsRevoked() {
		return nil
	}
	return m.store.RevokeToken(ctx, id, time.Now().UTC())
}

// projectKey squeezes a project id into the token's visible segment.
func projectKey(projectID string) string {
	key := projectKeyPattern.ReplaceAllString(strings.ToLower(projectID), "")
	if len(key) > 8 {
		key = key[:8]
	}
	if key == "" {
		key = "p"
	}
	return key
}
