// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

package config

import (
	"fmt"
	"time"
)

// Config is the full process configuration shared by the ingestion server,
// the realtime fan-out server and pulsectl. Each binary reads the sections it
// needs; unused sections are still validated so a single config file can be
// deployed to every process.
//
// Loading order (see LoadWithKoanf): defaults, then YAML file, then env vars.
//
// Config is immutable after loading and safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Security   SecurityConfig   `koanf:"security"`
	Queue      QueueConfig      `koanf:"queue"`
	Broker     BrokerConfig     `koanf:"broker"`
	Realtime   RealtimeConfig   `koanf:"realtime"`
	Auth       AuthConfig       `koanf:"auth"`
	Store      StoreConfig      `koanf:"store"`
	Enrich     EnrichConfig     `koanf:"enrich"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig configures the ingestion API listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	DataDir         string        `koanf:"data_dir"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig covers the outer HTTP surface: CORS and rate limiting.
// Tracked sites live on arbitrary origins, so CORS defaults to "*".
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// QueueConfig selects and tunes the durable event queue.
type QueueConfig struct {
	// Backend is badger (embedded, default), jetstream or kafka.
	Backend string `koanf:"backend"`

	// Badger backend
	Path         string        `koanf:"path"`
	SyncWrites   bool          `koanf:"sync_writes"`
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`

	// Consumer behaviour, shared by all backends
	Workers        int           `koanf:"workers"`
	LeaseDuration  time.Duration `koanf:"lease_duration"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	DedupTTL       time.Duration `koanf:"dedup_ttl"`
	DedupSize      int           `koanf:"dedup_size"`

	// JetStream backend
	StreamName     string        `koanf:"stream_name"`
	Subject        string        `koanf:"subject"`
	DeadLetterSubj string        `koanf:"dead_letter_subject"`
	DurableName    string        `koanf:"durable_name"`
	MaxAge         time.Duration `koanf:"max_age"`

	// Kafka backend
	KafkaBrokers  []string `koanf:"kafka_brokers"`
	KafkaTopic    string   `koanf:"kafka_topic"`
	KafkaDLQTopic string   `koanf:"kafka_dlq_topic"`
	KafkaGroupID  string   `koanf:"kafka_group_id"`
}

// BrokerConfig selects the live pub/sub transport.
type BrokerConfig struct {
	// Backend is memory, nats, amqp or redis.
	Backend string `koanf:"backend"`

	LiveChannel  string `koanf:"live_channel"`
	DebugChannel string `koanf:"debug_channel"`

	NATSURL          string `koanf:"nats_url"`
	EmbeddedNATS     bool   `koanf:"embedded_nats"`
	EmbeddedHost     string `koanf:"embedded_host"`
	EmbeddedPort     int    `koanf:"embedded_port"`
	EmbeddedJetDir   string `koanf:"embedded_jetstream_dir"`
	AMQPURL          string `koanf:"amqp_url"`
	RedisAddr        string `koanf:"redis_addr"`
	RedisPassword    string `koanf:"redis_password"`
	RedisDB          int    `koanf:"redis_db"`
	SubscriberBuffer int    `koanf:"subscriber_buffer"`

	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// CircuitBreakerConfig guards broker publishes. An open breaker is what
// flips /health/realtime to degraded.
type CircuitBreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// RealtimeConfig configures the standalone fan-out server and how the
// ingestion server advertises it.
type RealtimeConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	PublicURL      string        `koanf:"public_url"`
	SendBuffer     int           `koanf:"send_buffer"`
	WriteWait      time.Duration `koanf:"write_wait"`
	PongWait       time.Duration `koanf:"pong_wait"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// Addr returns host:port for the fan-out listener.
func (r RealtimeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig selects the project token store.
type AuthConfig struct {
	// Store is badger (default), postgres or memory.
	Store       string        `koanf:"store"`
	Path        string        `koanf:"path"`
	PostgresDSN string        `koanf:"postgres_dsn"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	CacheSize   uint64        `koanf:"cache_size"`
	BcryptCost  int           `koanf:"bcrypt_cost"`
}

// StoreConfig selects where the persistence worker writes events.
type StoreConfig struct {
	// Backend is badger (default) or clickhouse.
	Backend       string        `koanf:"backend"`
	Path          string        `koanf:"path"`
	Retention     time.Duration `koanf:"retention"`
	ClickHouseDSN string        `koanf:"clickhouse_dsn"`
}

type EnrichConfig struct {
	GeoIPPath string `koanf:"geoip_path"`
}

// ReconcileConfig tunes the client-side notification feed (pulsectl watch).
type ReconcileConfig struct {
	Notifications    bool          `koanf:"notifications"`
	Debounce         time.Duration `koanf:"debounce"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	PollWindow       time.Duration `koanf:"poll_window"`
	Aging            string        `koanf:"aging"` // ttl or probabilistic
	SeenTTL          time.Duration `koanf:"seen_ttl"`
	SeenCapacity     int           `koanf:"seen_capacity"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	SurvivalRate     float64       `koanf:"survival_rate"`
	EventLogSize     int           `koanf:"event_log_size"`
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`
}

// SupervisorConfig mirrors suture.Spec knobs.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}
