// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/metrics"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const backendClickHouse = "clickhouse"

// Both tables are ReplacingMergeTree so a redelivered event or an older
// summary row collapses on merge; reads use FINAL.
var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id          String,
		project_id  String,
		session_id  String,
		type        LowCardinality(String),
		occurred_at DateTime64(3, 'UTC'),
		received_at DateTime64(3, 'UTC'),
		page        String,
		country     LowCardinality(String),
		device_type LowCardinality(String),
		body        String
	) ENGINE = ReplacingMergeTree
	ORDER BY (project_id, occurred_at, id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		project_id   String,
		session_id   String,
		last_seen_at DateTime64(3, 'UTC'),
		version      UInt64,
		body         String
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (project_id, session_id)`,
}

// ClickHouseStore writes events to ClickHouse for deployments that query
// history at volume.
type ClickHouseStore struct {
	conn driver.Conn
}

// OpenClickHouse connects using cfg.ClickHouseDSN and creates the tables.
func OpenClickHouse(ctx context.Context, cfg config.StoreConfig) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(cfg.ClickHouseDSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	for _, stmt := range clickHouseSchema {
		if err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create clickhouse schema: %w", err)
		}
	}
	if cfg.Retention > 0 {
		days := int(cfg.Retention.Hours() / 24)
		if days < 1 {
			days = 1
		}
		ttl := fmt.Sprintf("ALTER TABLE events MODIFY TTL toDateTime(occurred_at) + INTERVAL %d DAY", days)
		if err := conn.Exec(ctx, ttl); err != nil {
			logging.Warn().Err(err).Msg("Failed to apply event retention TTL")
		}
	}
	logging.Info().Strs("addr", opts.Addr).Msg("ClickHouse event store opened")
	return &ClickHouseStore{conn: conn}, nil
}

func (s *ClickHouseStore) SaveEvent(ctx context.Context, ev *models.Event) error {
	start := time.Now()
	err := s.saveEvent(ctx, ev)
	metrics.RecordStoreWrite(backendClickHouse, time.Since(start), err)
	return err
}

func (s *ClickHouseStore) saveEvent(ctx context.Context, ev *models.Event) error {
	var n uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM events WHERE id = ?`, ev.ID).Scan(&n); err != nil {
		return fmt.Errorf("check event %s: %w", ev.ID, err)
	}
	if n > 0 {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Exec(ctx,
		`INSERT INTO events (id, project_id, session_id, type, occurred_at, received_at, page, country, device_type, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ProjectID, ev.SessionID, string(ev.Type), ev.OccurredAt, ev.ReceivedAt,
		ev.Page(), ev.Visitor.Country, ev.Visitor.DeviceType, string(body),
	); err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}

	summary, err := s.Session(ctx, ev.ProjectID, ev.SessionID)
	if errors.Is(err, ErrNotFound) {
		summary = &models.SessionSummary{}
	} else if err != nil {
		return err
	}
	summary.Apply(ev)
	sBody, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.conn.Exec(ctx,
		`INSERT INTO sessions (project_id, session_id, last_seen_at, version, body) VALUES (?, ?, ?, ?, ?)`,
		summary.ProjectID, summary.SessionID, summary.LastSeenAt, uint64(time.Now().UnixNano()), string(sBody),
	); err != nil {
		return fmt.Errorf("upsert session %s: %w", ev.SessionID, err)
	}
	return nil
}

func (s *ClickHouseStore) Events(ctx context.Context, q EventQuery) ([]models.Event, error) {
	q.normalize()
	rows, err := s.conn.Query(ctx,
		`SELECT body FROM events FINAL
		 WHERE project_id = ? AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY occurred_at, id LIMIT ?`,
		q.ProjectID, q.From, q.To, q.Limit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendClickHouse, "events").Inc()
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *ClickHouseStore) Session(ctx context.Context, projectID, sessionID string) (*models.SessionSummary, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT body FROM sessions FINAL WHERE project_id = ? AND session_id = ? LIMIT 1`,
		projectID, sessionID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendClickHouse, "session").Inc()
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	var body string
	if err := rows.Scan(&body); err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	var summary models.SessionSummary
	if err := json.Unmarshal([]byte(body), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &summary, nil
}

func (s *ClickHouseStore) LiveSessions(ctx context.Context, projectID string, since time.Time) ([]models.SessionSummary, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT body FROM sessions FINAL
		 WHERE project_id = ? AND last_seen_at >= ?
		 ORDER BY last_seen_at DESC`,
		projectID, since)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backendClickHouse, "live_sessions").Inc()
		return nil, fmt.Errorf("query live sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.SessionSummary, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var summary models.SessionSummary
		if err := json.Unmarshal([]byte(body), &summary); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, summary)
	}
	return sessions, rows.Err()
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
