// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/queue"
)

// Realtime health statuses and client modes.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"

	ModeRealtime        = "realtime"
	ModePollingFallback = "polling-fallback"
	ModePolling         = "polling"
)

const realtimeProbeTimeout = 2 * time.Second

// RealtimeHealth is the body of GET /health/realtime. Dashboard clients use
// Mode to decide between the push stream and polling.
type RealtimeHealth struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status       string       `json:"status"`
	Version      string       `json:"version,omitempty"`
	Uptime       float64      `json:"uptime"`
	Queue        *queue.Stats `json:"queue,omitempty"`
	Broker       string       `json:"broker"`
	BreakerState string       `json:"breakerState"`
}

type healthChecker interface {
	Healthy() bool
	BreakerState() string
	Transport() string
}

type statsReporter interface {
	Stats() (queue.Stats, error)
}

// Health handles GET /health. The process is degraded while the queue
// cannot report its depth or the broker breaker is open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthStatus{
		Status:       StatusHealthy,
		Version:      h.version,
		Uptime:       time.Since(h.startTime).Seconds(),
		Broker:       "unknown",
		BreakerState: "disabled",
	}

	if hc, ok := h.broker.(healthChecker); ok {
		resp.Broker = hc.Transport()
		resp.BreakerState = hc.BreakerState()
		if !hc.Healthy() {
			resp.Status = StatusDegraded
		}
	}

	if sr, ok := h.queue.(statsReporter); ok {
		stats, err := sr.Stats()
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Queue stats unavailable")
			resp.Status = StatusDegraded
		} else {
			resp.Queue = &stats
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// HealthRealtime handles GET /health/realtime.
func (h *Handler) HealthRealtime(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.realtimeHealth(r.Context()))
}

func (h *Handler) realtimeHealth(ctx context.Context) RealtimeHealth {
	if !h.cfg.Realtime.Enabled || h.realtime == nil {
		return RealtimeHealth{Status: StatusDisabled, Mode: ModePolling}
	}

	if hc, ok := h.broker.(healthChecker); ok && !hc.Healthy() {
		return RealtimeHealth{Status: StatusDegraded, Mode: ModePollingFallback, Reason: "broker circuit open"}
	}

	if err := h.realtime.Check(ctx); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("Realtime server probe failed")
		return RealtimeHealth{Status: StatusDegraded, Mode: ModePollingFallback, Reason: "realtime server unreachable"}
	}

	return RealtimeHealth{Status: StatusHealthy, Mode: ModeRealtime, URL: h.cfg.Realtime.PublicURL}
}

// HTTPRealtimeProbe checks the fan-out server's own /health endpoint.
type HTTPRealtimeProbe struct {
	url    string
	client *http.Client
}

// NewRealtimeProbe targets the fan-out listener from cfg. A wildcard host is
// probed over loopback.
func NewRealtimeProbe(cfg config.RealtimeConfig) *HTTPRealtimeProbe {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &HTTPRealtimeProbe{
		url:    "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)) + "/health",
		client: &http.Client{Timeout: realtimeProbeTimeout},
	}
}

// Check returns nil when the fan-out server answers 200.
func (p *HTTPRealtimeProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("realtime health returned %d", resp.StatusCode)
	}
	return nil
}
