// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation for both the ingestion server and the realtime fan-out
// server. Every collector is registered on the default registry by promauto
// and served from GET /metrics.

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Ingestion Metrics
	IngestAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_accepted_total",
			Help: "Tracked events accepted and durably queued",
		},
		[]string{"type"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_rejected_total",
			Help: "Tracked events rejected by the ingestion endpoint",
		},
		[]string{"reason"}, // validation, unauthorized, not_found, queue, internal
	)

	IngestLivePublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_live_publish_failures_total",
			Help: "Accepted events whose live broker publish failed",
		},
	)

	// Queue Metrics
	QueuePushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_pushed_total",
			Help: "Messages pushed to the durable queue",
		},
		[]string{"backend", "result"}, // result: success, failure, duplicate
	)

	QueueDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_delivered_total",
			Help: "Messages handed to a queue consumer",
		},
		[]string{"backend"},
	)

	QueueAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_acked_total",
			Help: "Messages processed successfully and removed from the queue",
		},
		[]string{"backend"},
	)

	QueueRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Failed deliveries scheduled for retry",
		},
		[]string{"backend"},
	)

	QueueDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dead_lettered_total",
			Help: "Messages moved to the dead-letter path",
		},
		[]string{"backend"},
	)

	QueueDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_deduplicated_total",
			Help: "Redelivered messages skipped by the consumer idempotency check",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Messages waiting in the queue by state",
		},
		[]string{"state"}, // pending, leased, dead
	)

	QueueProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent in the queue handler per message",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broker Metrics
	BrokerPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Broker publish attempts",
		},
		[]string{"channel", "result"}, // result: success, failure, rejected
	)

	BrokerDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_delivered_total",
			Help: "Broker messages delivered to local subscribers",
		},
		[]string{"channel"},
	)

	BrokerMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_malformed_total",
			Help: "Broker payloads that could not be decoded and were skipped",
		},
		[]string{"channel"},
	)

	BrokerDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_dropped_total",
			Help: "Broker messages dropped because a local subscriber buffer was full",
		},
		[]string{"channel"},
	)

	BrokerSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_subscriptions",
			Help: "Active broker subscriptions in this process",
		},
		[]string{"channel"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket Fan-out Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_rooms_active",
			Help: "Current number of project rooms with at least one member",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Frames queued to WebSocket clients",
		},
	)

	WSMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Frames received from WebSocket clients",
		},
	)

	WSBroadcastsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_broadcasts_skipped_total",
			Help: "Broker events dropped because the target room had no members",
		},
	)

	WSSlowClientDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_client_drops_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "WebSocket errors by type",
		},
		[]string{"error_type"},
	)

	// Debug Stream Metrics
	DebugStreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "debug_stream_subscribers",
			Help: "Open debug SSE connections",
		},
	)

	DebugStreamFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "debug_stream_frames_dropped_total",
			Help: "Debug frames dropped by the per-connection frame budget",
		},
	)

	// Auth Metrics
	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Project token validations by result",
		},
		[]string{"result"}, // valid, invalid, expired, revoked, mismatch, error
	)

	TokenCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "token_cache_hits_total",
			Help: "Token validations answered from the validator cache",
		},
	)

	// Event Store Metrics
	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_store_write_duration_seconds",
			Help:    "Duration of event store writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_store_errors_total",
			Help: "Event store errors by operation",
		},
		[]string{"backend", "operation"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version", "component"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordQueuePush records the outcome of a queue push.
func RecordQueuePush(backend string, err error, duplicate bool) {
	switch {
	case duplicate:
		QueuePushed.WithLabelValues(backend, "duplicate").Inc()
	case err != nil:
		QueuePushed.WithLabelValues(backend, "failure").Inc()
	default:
		QueuePushed.WithLabelValues(backend, "success").Inc()
	}
}

// RecordBrokerPublish records a publish attempt. rejected marks publishes
// refused by an open circuit breaker.
func RecordBrokerPublish(channel string, err error, rejected bool) {
	switch {
	case rejected:
		BrokerPublished.WithLabelValues(channel, "rejected").Inc()
	case err != nil:
		BrokerPublished.WithLabelValues(channel, "failure").Inc()
	default:
		BrokerPublished.WithLabelValues(channel, "success").Inc()
	}
}

// RecordStoreWrite records an event store write and its error, if any.
func RecordStoreWrite(backend string, duration time.Duration, err error) {
	StoreWriteDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, "write").Inc()
	}
}

// SetAppInfo publishes build information for the running component
// ("server", "realtime").
func SetAppInfo(version, component string) {
	AppInfo.WithLabelValues(version, runtime.Version(), component).Set(1)
}

// TrackUptime updates AppUptime every interval until stop is closed.
func TrackUptime(start time.Time, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		AppUptime.Set(time.Since(start).Seconds())
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}
