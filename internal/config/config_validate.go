// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package config

import (
	"net/url"
	"strings"
)

// Validate checks every section and returns the first *ConfigError found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateSecurity,
		c.validateQueue,
		c.validateBroker,
		c.validateRealtime,
		c.validateAuth,
		c.validateStore,
		c.validateReconcile,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.MaxBodyBytes <= 0 {
		return &ConfigError{Field: "server.max_body_bytes", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return &ConfigError{Field: "logging.level", Message: "unknown level " + c.Logging.Level}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
		return nil
	default:
		return &ConfigError{Field: "logging.format", Message: "must be json or console"}
	}
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs <= 0 {
		return &ConfigError{Field: "security.rate_limit_reqs", Message: "must be positive"}
	}
	if c.Security.RateLimitWindow <= 0 {
		return &ConfigError{Field: "security.rate_limit_window", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateQueue() error {
	q := c.Queue
	switch q.Backend {
	case "badger":
		if q.Path == "" {
			return &ConfigError{Field: "queue.path", Message: "required for the badger backend"}
		}
		if q.PollInterval <= 0 {
			return &ConfigError{Field: "queue.poll_interval", Message: "must be positive"}
		}
	case "jetstream":
		if q.StreamName == "" || q.Subject == "" {
			return &ConfigError{Field: "queue.stream_name", Message: "stream_name and subject are required for jetstream"}
		}
	case "kafka":
		if len(q.KafkaBrokers) == 0 {
			return &ConfigError{Field: "queue.kafka_brokers", Message: "at least one broker is required"}
		}
		if q.KafkaTopic == "" {
			return &ConfigError{Field: "queue.kafka_topic", Message: "required for the kafka backend"}
		}
	default:
		return &ConfigError{Field: "queue.backend", Message: "must be badger, jetstream or kafka"}
	}
	if q.Workers < 1 {
		return &ConfigError{Field: "queue.workers", Message: "must be at least 1"}
	}
	if q.MaxAttempts < 1 {
		return &ConfigError{Field: "queue.max_attempts", Message: "must be at least 1"}
	}
	if q.InitialBackoff <= 0 || q.MaxBackoff < q.InitialBackoff {
		return &ConfigError{Field: "queue.max_backoff", Message: "must be >= initial_backoff > 0"}
	}
	return nil
}

func (c *Config) validateBroker() error {
	b := c.Broker
	if b.LiveChannel == "" || b.DebugChannel == "" {
		return &ConfigError{Field: "broker.live_channel", Message: "live and debug channel names are required"}
	}
	if b.LiveChannel == b.DebugChannel {
		return &ConfigError{Field: "broker.debug_channel", Message: "must differ from live_channel"}
	}
	switch b.Backend {
	case "memory":
	case "nats":
		if !b.EmbeddedNATS {
			if err := validateURL("broker.nats_url", b.NATSURL, "nats", "tls"); err != nil {
				return err
			}
		}
	case "amqp":
		if err := validateURL("broker.amqp_url", b.AMQPURL, "amqp", "amqps"); err != nil {
			return err
		}
	case "redis":
		if b.RedisAddr == "" {
			return &ConfigError{Field: "broker.redis_addr", Message: "required for the redis backend"}
		}
	default:
		return &ConfigError{Field: "broker.backend", Message: "must be memory, nats, amqp or redis"}
	}
	if b.CircuitBreaker.Enabled && b.CircuitBreaker.FailureThreshold == 0 {
		return &ConfigError{Field: "broker.circuit_breaker.failure_threshold", Message: "must be positive"}
	}
	if c.Queue.Backend == "jetstream" && b.Backend != "nats" {
		return &ConfigError{Field: "queue.backend", Message: "jetstream requires broker.backend=nats"}
	}
	return nil
}

func (c *Config) validateRealtime() error {
	r := c.Realtime
	if !r.Enabled {
		return nil
	}
	if r.Port < 1 || r.Port > 65535 {
		return &ConfigError{Field: "realtime.port", Message: "must be between 1 and 65535"}
	}
	if r.SendBuffer < 1 {
		return &ConfigError{Field: "realtime.send_buffer", Message: "must be at least 1"}
	}
	if r.PongWait <= 0 || r.WriteWait <= 0 {
		return &ConfigError{Field: "realtime.pong_wait", Message: "pong_wait and write_wait must be positive"}
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch c.Auth.Store {
	case "badger":
		if c.Auth.Path == "" {
			return &ConfigError{Field: "auth.path", Message: "required for the badger store"}
		}
	case "postgres":
		if c.Auth.PostgresDSN == "" {
			return &ConfigError{Field: "auth.postgres_dsn", Message: "required for the postgres store"}
		}
	case "memory":
	default:
		return &ConfigError{Field: "auth.store", Message: "must be badger, postgres or memory"}
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return &ConfigError{Field: "auth.bcrypt_cost", Message: "must be between 4 and 31"}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "badger":
		if c.Store.Path == "" {
			return &ConfigError{Field: "store.path", Message: "required for the badger backend"}
		}
	case "clickhouse":
		if c.Store.ClickHouseDSN == "" {
			return &ConfigError{Field: "store.clickhouse_dsn", Message: "required for the clickhouse backend"}
		}
	default:
		return &ConfigError{Field: "store.backend", Message: "must be badger or clickhouse"}
	}
	return nil
}

func (c *Config) validateReconcile() error {
	r := c.Reconcile
	if r.Debounce < 0 {
		return &ConfigError{Field: "reconcile.debounce", Message: "must not be negative"}
	}
	if r.PollInterval <= 0 {
		return &ConfigError{Field: "reconcile.poll_interval", Message: "must be positive"}
	}
	if r.EventLogSize < 1 {
		return &ConfigError{Field: "reconcile.event_log_size", Message: "must be at least 1"}
	}
	switch r.Aging {
	case "ttl":
		if r.SeenTTL <= 0 {
			return &ConfigError{Field: "reconcile.seen_ttl", Message: "must be positive"}
		}
	case "probabilistic":
		if r.SurvivalRate <= 0 || r.SurvivalRate >= 1 {
			return &ConfigError{Field: "reconcile.survival_rate", Message: "must be in (0, 1)"}
		}
		if r.SweepInterval <= 0 {
			return &ConfigError{Field: "reconcile.sweep_interval", Message: "must be positive"}
		}
	default:
		return &ConfigError{Field: "reconcile.aging", Message: "must be ttl or probabilistic"}
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &ConfigError{Field: field, Message: "must be an absolute URL"}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return &ConfigError{Field: field, Message: "unsupported scheme " + u.Scheme}
}
