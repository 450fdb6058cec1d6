// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package models

import "time"

// Project is a tenant. Every token, room and stored event belongs to one.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProjectToken is a tracking credential scoped to a single project.
//
// Only the prefix (for lookup) and a bcrypt hash are stored; the plaintext
// token is shown once at creation time.
type ProjectToken struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Name        string     `json:"name"`
	TokenPrefix string     `json:"tokenPrefix"`
	TokenHash   string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
}

func (t *ProjectToken) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

func (t *ProjectToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive is true when the token is neither expired nor revoked.
func (t *ProjectToken) IsActive() bool {
	return !t.IsExpired() && !t.IsRevoked()
}
