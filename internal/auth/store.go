// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/models"
)

var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token has expired")
	ErrTokenRevoked    = errors.New("token has been revoked")
	ErrProjectMismatch = errors.New("token is not valid for this project")
	ErrTokenNotFound   = errors.New("token not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectDisabled = errors.New("project is disabled")
)

// Store persists projects and their tokens. Implementations store only the
// lookup prefix and hash of a token.
type Store interface {
	PutProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)

	CreateToken(ctx context.Context, t *models.ProjectToken) error
	GetToken(ctx context.Context, id string) (*models.ProjectToken, error)
	// FindByPrefix returns every token sharing the lookup prefix.
	FindByPrefix(ctx context.Context, prefix string) ([]models.ProjectToken, error)
	ListTokens(ctx context.Context, projectID string) ([]models.ProjectToken, error)
	RevokeToken(ctx context.Context, id string, at time.Time) error
	TouchToken(ctx context.Context, id string, at time.Time) error

	Close() error
}

// OpenStore opens the backend selected by cfg.Store.
func OpenStore(ctx context.Context, cfg config.AuthConfig) (Store, error) {
	switch cfg.Store {
	case "badger", "":
		return OpenBadgerStore(cfg.Path)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.PostgresDSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.Store)
	}
}
