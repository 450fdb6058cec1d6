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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/visitorpulse/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	disabled   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS project_tokens (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id),
	name         TEXT NOT NULL,
	token_prefix TEXT NOT NULL,
	token_hash   TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ,
	revoked_at   TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_project_tokens_prefix ON project_tokens (token_prefix);
CREATE INDEX IF NOT EXISTS idx_project_tokens_project ON project_tokens (project_id);
`

const tokenColumns = `id, project_id, name, token_prefix, token_hash, created_at, expires_at, revoked_at, last_used_at`

// PostgresStore keeps projects and tokens in PostgreSQL, for deployments
// where several ingestion servers share one token database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to dsn and creates the schema if needed.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create token schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) PutProject(ctx context.Context, p *models.Project) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, disabled, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, disabled = EXCLUDED.disabled`,
		p.ID, p.Name, p.Disabled, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, disabled, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Disabled, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateToken(ctx context.Context, t *models.ProjectToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.ProjectID, t.Name, t.TokenPrefix, t.TokenHash, t.CreatedAt,
		t.ExpiresAt, t.RevokedAt, t.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetToken(ctx context.Context, id string) (*models.ProjectToken, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM project_tokens WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	tokens, err := scanTokens(rows)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, ErrTokenNotFound
	}
	return &tokens[0], nil
}

func (s *PostgresStore) FindByPrefix(ctx context.Context, prefix string) ([]models.ProjectToken, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM project_tokens WHERE token_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find tokens: %w", err)
	}
	return scanTokens(rows)
}

func (s *PostgresStore) ListTokens(ctx context.Context, projectID string) ([]models.ProjectToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM project_tokens WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return scanTokens(rows)
}

func (s *PostgresStore) RevokeToken(ctx context.Context, id string, at time.Time) error {
	return s.setTime(ctx, "revoked_at", id, at)
}

func (s *PostgresStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	return s.setTime(ctx, "last_used_at", id, at)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// setTime is only called with column names from this file.
func (s *PostgresStore) setTime(ctx context.Context, column, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE project_tokens SET `+column+` = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func scanTokens(rows pgx.Rows) ([]models.ProjectToken, error) {
	defer rows.Close()
	var tokens []models.ProjectToken
	for rows.Next() {
		var t models.ProjectToken
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.TokenPrefix, &t.TokenHash,
			&t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}
	return tokens, nil
}
