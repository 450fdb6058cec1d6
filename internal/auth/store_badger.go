// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	prefixProject      = "project:"       // project:<id> -> Project
	prefixToken        = "token:"         // token:<id> -> storedToken
	prefixTokenLookup  = "token_prefix:"  // token_prefix:<prefix>:<id> -> id
	prefixTokenProject = "token_project:" // token_project:<project>:<id> -> id
)

// storedToken keeps the hash that models.ProjectToken hides from JSON.
type storedToken struct {
	models.ProjectToken
	Hash string `json:"hash"`
}

// BadgerStore persists projects and tokens in an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerStore opens (or creates) a token store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token store path is required")
	}
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore uses an already open database. Close leaves db open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) PutProject(_ context.Context, p *models.Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixProject+p.ID), data)
	})
}

func (s *BadgerStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	var p models.Project
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixProject + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *BadgerStore) CreateToken(_ context.Context, t *models.ProjectToken) error {
	data, err := json.Marshal(storedToken{ProjectToken: *t, Hash: t.TokenHash})
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixToken+t.ID), data); err != nil {
			return err
		}
		if err := txn.Set(lookupKey(t.TokenPrefix, t.ID), []byte(t.ID)); err != nil {
			return err
		}
		return txn.Set(projectIndexKey(t.ProjectID, t.ID), []byte(t.ID))
	})
}

func (s *BadgerStore) GetToken(_ context.Context, id string) (*models.ProjectToken, error) {
	var tok *models.ProjectToken
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		tok, err = getToken(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *BadgerStore) FindByPrefix(_ context.Context, prefix string) ([]models.ProjectToken, error) {
	return s.scanIndex([]byte(prefixTokenLookup + prefix + ":"))
}

func (s *BadgerStore) ListTokens(_ context.Context, projectID string) ([]models.ProjectToken, error) {
	tokens, err := s.scanIndex([]byte(prefixTokenProject + projectID + ":"))
	if err != nil {
		return nil, err
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].CreatedAt.Before(tokens[j].CreatedAt) })
	return tokens, nil
}

func (s *BadgerStore) RevokeToken(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(t *models.ProjectToken) { t.RevokedAt = &at })
}

func (s *BadgerStore) TouchToken(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(t *models.ProjectToken) { t.LastUsedAt = &at })
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) update(id string, mutate func(*models.ProjectToken)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		tok, err := getToken(txn, id)
		if err != nil {
			return err
		}
		mutate(tok)
		data, err := json.Marshal(storedToken{ProjectToken: *tok, Hash: tok.TokenHash})
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}
		return txn.Set([]byte(prefixToken+id), data)
	})
}

// scanIndex resolves every id stored under an index prefix.
func (s *BadgerStore) scanIndex(prefix []byte) ([]models.ProjectToken, error) {
	var tokens []models.ProjectToken
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, id := range ids {
			tok, err := getToken(txn, id)
			if errors.Is(err, ErrTokenNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			tokens = append(tokens, *tok)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tokens: %w", err)
	}
	return tokens, nil
}

func getToken(txn *badger.Txn, id string) (*models.ProjectToken, error) {
	item, err := txn.Get([]byte(prefixToken + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	var st storedToken
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &st)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	tok := st.ProjectToken
	tok.TokenHash = st.Hash
	return &tok, nil
}

func lookupKey(prefix, id string) []byte {
	return []byte(prefixTokenLookup + prefix + ":" + id)
}

func projectIndexKey(projectID, id string) []byte {
	return []byte(prefixTokenProject + projectID + ":" + id)
}
