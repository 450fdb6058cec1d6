// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultPollWindow   = 5 * time.Minute
)

// Offerer receives candidates from a source. *Model implements it.
type Offerer interface {
	Offer(c Candidate) Outcome
}

// Poller periodically fetches the live-sessions endpoint and offers every
// active session. It polls once immediately, then every interval.
type Poller struct {
	client    *http.Client
	baseURL   string
	projectID string
	token     string
	interval  time.Duration
	window    time.Duration
	sink      Offerer
	now       func() time.Time
}

type PollerConfig struct {
	BaseURL   string
	ProjectID string
	Token     string
	Interval  time.Duration
	Window    time.Duration
}

func NewPoller(client *http.Client, cfg PollerConfig, sink Offerer) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultPollWindow
	}
	return &Poller{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		token:     cfg.Token,
		interval:  cfg.Interval,
		window:    cfg.Window,
		sink:      sink,
		now:       time.Now,
	}
}

// Serve implements suture.Service. Poll errors are logged and the next
// tick tries again.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Str("project_id", p.projectID).Msg("Live session poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) String() string { return "live-session-poller" }

// Poll runs one fetch and offers the active sessions it returns.
func (p *Poller) Poll(ctx context.Context) error {
	sessions, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	for i := range sessions {
		s := &sessions[i]
		if !s.Active() {
			continue
		}
		page := s.CurrentPage
		if page == "" {
			page = s.EntryPage
		}
		p.sink.Offer(Candidate{
			Source:    SourcePoll,
			ProjectID: s.ProjectID,
			SessionID: s.SessionID,
			Page:      page,
			Visitor:   s.Visitor,
			At:        s.LastSeenAt,
		})
	}
	return nil
}

type liveSessionsBody struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

func (p *Poller) fetch(ctx context.Context) ([]models.SessionSummary, error) {
	since := p.now().Add(-p.window).UTC().Format(time.RFC3339)
	endpoint := fmt.Sprintf("%s/api/projects/%s/live-sessions?since=%s",
		p.baseURL, url.PathEscape(p.projectID), url.QueryEscape(since))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("live sessions returned %d", resp.StatusCode)
	}
	var body liveSessionsBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode live sessions: %w", err)
	}
	return body.Sessions, nil
}
