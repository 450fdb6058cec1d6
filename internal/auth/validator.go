// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const touchTimeout = 5 * time.Second

// Principal is the outcome of a successful validation.
type Principal struct {
	Token   models.ProjectToken
	Project models.Project
}

// Validator checks bearer tokens against a Store. A bcrypt match is cached
// by the SHA-256 of the token, mapping it to the token id. Every call still
// reloads the token and its project, so revocation, expiry and project
// disabling apply to the next request.
type Validator struct {
	store Store
	cache *ttlcache.Cache[string, string]
	now   func() time.Time
}

// NewValidator creates a validator. Call Close to stop the cache janitor.
func NewValidator(store Store, cfg config.AuthConfig) *Validator {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	size := cfg.CacheSize
	if size == 0 {
		size = 10000
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithCapacity[string, string](size),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &Validator{store: store, cache: cache, now: time.Now}
}

// Validate authenticates plaintext for projectID.
//
// Candidates sharing the token's lookup prefix are verified in turn and the
// first match wins. Errors are ErrMissingToken, ErrInvalidToken,
// ErrTokenExpired, ErrTokenRevoked, ErrProjectMismatch, ErrProjectNotFound
// and ErrProjectDisabled; anything else is a store failure.
func (v *Validator) Validate(ctx context.Context, plaintext, projectID string) (*Principal, error) {
	p, err := v.validate(ctx, plaintext, projectID)
	metrics.TokenValidations.WithLabelValues(resultLabel(err)).Inc()
	return p, err
}

func (v *Validator) validate(ctx context.Context, plaintext, projectID string) (*Principal, error) {
	if plaintext == "" {
		return nil, ErrMissingToken
	}
	if !IsProjectToken(plaintext) {
		return nil, ErrInvalidToken
	}

	key := cacheKey(plaintext)
	if item := v.cache.Get(key); item != nil {
		metrics.TokenCacheHits.Inc()
		tok, err := v.store.GetToken(ctx, item.Value())
		if errors.Is(err, ErrTokenNotFound) {
			v.cache.Delete(key)
			return nil, ErrInvalidToken
		}
		if err != nil {
			return nil, err
		}
		return v.authorize(ctx, key, tok, projectID)
	}

	candidates, err := v.store.FindByPrefix(ctx, LookupPrefix(plaintext))
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		tok := candidates[i]
		if !verifyToken(plaintext, tok.TokenHash) {
			continue
		}
		v.cache.Set(key, tok.ID, ttlcache.DefaultTTL)
		p, err := v.authorize(ctx, key, &tok, projectID)
		if err == nil {
			v.touch(tok.ID)
		}
		return p, err
	}
	return nil, ErrInvalidToken
}

// authorize applies the token's current state and its project's.
func (v *Validator) authorize(ctx context.Context, key string, tok *models.ProjectToken, projectID string) (*Principal, error) {
	if err := v.check(tok, projectID); err != nil {
		if !errors.Is(err, ErrProjectMismatch) {
			v.cache.Delete(key)
		}
		return nil, err
	}
	project, err := v.store.GetProject(ctx, tok.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Disabled {
		return nil, ErrProjectDisabled
	}
	return &Principal{Token: *tok, Project: *project}, nil
}

func (v *Validator) check(tok *models.ProjectToken, projectID string) error {
	if tok.RevokedAt != nil {
		return ErrTokenRevoked
	}
	if tok.ExpiresAt != nil && v.now().After(*tok.ExpiresAt) {
		return ErrTokenExpired
	}
	if tok.ProjectID != projectID {
		return ErrProjectMismatch
	}
	return nil
}

// touch records last use without holding up the request.
func (v *Validator) touch(id string) {
	at := v.now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := v.store.TouchToken(ctx, id, at); err != nil {
			logging.Debug().Err(err).Str("token_id", id).Msg("Failed to update token last_used_at")
		}
	}()
}

// Close stops the cache janitor.
func (v *Validator) Close() {
	v.cache.Stop()
}

// IsUnauthorized reports whether err should be answered with 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrProjectMismatch)
}

// IsNotFound reports whether err should be answered with 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrProjectDisabled)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrProjectMismatch):
		return "mismatch"
	case IsUnauthorized(err):
		return "invalid"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
