// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/visitorpulse/internal/auth"
	"github.com/tomtom215/visitorpulse/internal/broker"
	"github.com/tomtom215/visitorpulse/internal/config"
	"github.com/tomtom215/visitorpulse/internal/debuglog"
	"github.com/tomtom215/visitorpulse/internal/enrich"
	"github.com/tomtom215/visitorpulse/internal/models"
	"github.com/tomtom215/visitorpulse/internal/queue"
	"github.com/tomtom215/visitorpulse/internal/store"
)

// TokenValidator is satisfied by *auth.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, token, projectID string) (*auth.Principal, error)
}

// VisitorEnricher is satisfied by *enrich.Enricher.
type VisitorEnricher interface {
	Visitor(userAgent, clientIP string) models.VisitorContext
}

// RealtimeProbe reports whether the fan-out server answers.
type RealtimeProbe interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators built once in main and shared by every
// request.
type Deps struct {
	Config    *config.Config
	Queue     queue.Queue
	Broker    broker.Broker
	Validator TokenValidator
	Enricher  VisitorEnricher
	Emitter   *debuglog.Emitter
	Store     store.EventStore
	Realtime  RealtimeProbe
	Version   string
}

// Handler serves the ingestion, query and health endpoints.
type Handler struct {
	cfg         *config.Config
	queue       queue.Queue
	broker      broker.Broker
	validator   TokenValidator
	enricher    VisitorEnricher
	emitter     *debuglog.Emitter
	store       store.EventStore
	realtime    RealtimeProbe
	liveChannel string
	version     string
	startTime   time.Time
	now         func() time.Time
}

const defaultMaxBodyBytes = 64 << 10

// NewHandler creates the handler set. Config is required. A nil Enricher disables enrichment
// and a nil Emitter only writes debug logs to the process log.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		cfg:         d.Config,
		queue:       d.Queue,
		broker:      d.Broker,
		validator:   d.Validator,
		enricher:    d.Enricher,
		emitter:     d.Emitter,
		store:       d.Store,
		realtime:    d.Realtime,
		liveChannel: d.Config.Broker.LiveChannel,
		version:     d.Version,
		startTime:   time.Now(),
		now:         time.Now,
	}
	if h.enricher == nil {
		h.enricher = enrich.NewWithLookup(nil)
	}
	if h.emitter == nil {
		h.emitter = debuglog.NewEmitter(nil, "")
	}
	return h
}

// clientIP returns the host part of RemoteAddr, which chi's RealIP has
// already rewritten when trusted proxies are configured.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
