// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

/*
Package config loads VisitorPulse configuration with koanf.

Three layers are merged, later layers winning:

  - Built-in defaults (defaultConfig)
  - An optional YAML file (CONFIG_PATH, ./config.yaml, /etc/visitorpulse/config.yaml)
  - Environment variables from a fixed mapping table (HTTP_PORT, QUEUE_BACKEND, ...)

Example config.yaml:

	server:
	  port: 8080
	queue:
	  backend: badger
	  path: /var/lib/visitorpulse/queue
	broker:
	  backend: nats
	  embedded_nats: true
	realtime:
	  public_url: wss://live.example.com/ws

Comma-separated env values are split for list fields (CORS_ORIGINS,
KAFKA_BROKERS). Validation errors are returned as *ConfigError.
*/
package config
