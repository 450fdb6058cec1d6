// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package reconcile

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/supervisor"
)

// Realtime modes reported by GET /health/realtime.
const (
	ModeRealtime        = "realtime"
	ModePollingFallback = "polling-fallback"
	ModePolling         = "polling"
)

// RealtimeHealth mirrors the ingestion server's /health/realtime body.
type RealtimeHealth struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	URL    string `json:"url,omitempty"`
}

// ProbeRealtime asks the ingestion server whether the push channel can be
// trusted.
func ProbeRealtime(ctx context.Context, client *http.Client, baseURL string) (RealtimeHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health/realtime", http.NoBody)
	if err != nil {
		return RealtimeHealth{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return RealtimeHealth{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RealtimeHealth{}, fmt.Errorf("realtime health returned %d", resp.StatusCode)
	}
	var h RealtimeHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return RealtimeHealth{}, fmt.Errorf("decode realtime health: %w", err)
	}
	return h, nil
}

// RuntimeOptions identifies the project to watch.
type RuntimeOptions struct {
	BaseURL    string // ingestion server, e.g. http://localhost:8080
	ProjectID  string
	Token      string
	HTTPClient *http.Client
	Notify     NotifyFunc
}

// Runtime wires a Model to its sources under a supervisor tree: the poller
// always, the push source when the server reports realtime mode, and the
// seen-set sweeper for probabilistic aging.
type Runtime struct {
	cfg    config.ReconcileConfig
	sup    config.SupervisorConfig
	opts   RuntimeOptions
	model  *Model
	seen   SeenSet
	client *http.Client

	// mu guards push and mode, which Run sets while callers may read them.
	mu   sync.RWMutex
	push *PushSource
	mode string
}

func NewRuntime(cfg *config.Config, opts RuntimeOptions) *Runtime {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	seen := NewSeenSet(cfg.Reconcile)
	model := New(seen, opts.Notify, Options{
		Debounce:      cfg.Reconcile.Debounce,
		Notifications: cfg.Reconcile.Notifications,
		EventLogSize:  cfg.Reconcile.EventLogSize,
	})
	return &Runtime{
		cfg:    cfg.Reconcile,
		sup:    cfg.Supervisor,
		opts:   opts,
		model:  model,
		seen:   seen,
		mode:   ModePolling,
		client: client,
	}
}

func (r *Runtime) Model() *Model { return r.model }

// Mode is the realtime mode decided at startup.
func (r *Runtime) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// PushConnected reports whether the push source currently holds a room.
func (r *Runtime) PushConnected() bool {
	r.mu.RLock()
	push := r.push
	r.mu.RUnlock()
	return push != nil && push.Connected()
}

// Run probes the server, starts the sources and blocks until ctx is done.
// A failed probe is not fatal: the runtime falls back to polling only.
func (r *Runtime) Run(ctx context.Context) error {
	mode := ModePolling
	health, err := ProbeRealtime(ctx, r.client, r.opts.BaseURL)
	if err != nil {
		logging.Warn().Err(err).Msg("Realtime probe failed, using polling only")
	} else {
		mode = health.Mode
	}

	tree, err := supervisor.NewSupervisorTree("reconcile", logging.NewSlogLogger(), supervisor.TreeConfigFromConfig(r.sup))
	if err != nil {
		return err
	}

	tree.AddMessagingService(NewPoller(r.client, PollerConfig{
		BaseURL:   r.opts.BaseURL,
		ProjectID: r.opts.ProjectID,
		Token:     r.opts.Token,
		Interval:  r.cfg.PollInterval,
		Window:    r.cfg.PollWindow,
	}, r.model))

	var push *PushSource
	if mode == ModeRealtime && health.URL != "" {
		push = NewPushSource(health.URL, r.opts.ProjectID, r.cfg.ReconnectBackoff, r.model)
		tree.AddMessagingService(push)
	}
	r.mu.Lock()
	r.mode = mode
	r.push = push
	r.mu.Unlock()

	if set, ok := r.seen.(*SweepSet); ok {
		tree.AddDataService(NewSweeper(set, r.cfg.SweepInterval))
	}

	logging.Info().
		Str("project_id", r.opts.ProjectID).
		Str("mode", mode).
		Bool("notifications", r.model.NotificationsEnabled()).
		Msg("Live visitor feed started")

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
